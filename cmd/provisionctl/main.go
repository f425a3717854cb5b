package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"beratung.org/internal/appointments"
	"beratung.org/internal/audit"
	"beratung.org/internal/identity"
	"beratung.org/internal/ids"
	"beratung.org/internal/legacychat"
	"beratung.org/internal/messaging"
	"beratung.org/internal/obs"
	"beratung.org/internal/principal"
	"beratung.org/internal/room"
	"beratung.org/internal/saga"
	"beratung.org/internal/store"
	"beratung.org/internal/store/pg"
)

// provisionctl drives provisioning and room lifecycle operations from the
// command line. Configuration comes from the environment, operation
// parameters from flags.
//
//	provisionctl provision -username mweber -first Maria -last Weber \
//	    -email m.weber@example.org -credential s3cret -roles consultant
//	provisionctl hold -case case-1 -agency agency-1 -contact-user @seeker:x -contact-secret s
//	provisionctl assign -case case-1 -agency agency-1 -principal-id local-1 ...
//	provisionctl observe -case case-1 -principal-id local-2 ...
func main() {
	log.SetFlags(0)
	obs.Init()

	if len(os.Args) < 2 {
		log.Fatal("usage: provisionctl [provision|hold|assign|observe|unobserve] ...")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = audit.WithRequestID(ctx, ids.New())

	st := openStore()
	msg := messaging.NewClient(messaging.Config{
		BaseURL:            os.Getenv("BERATUNG_MESSAGING_URL"),
		RegistrationSecret: os.Getenv("BERATUNG_MESSAGING_REG_SECRET"),
	}, messaging.NewTokenCache(0))

	var err error
	switch os.Args[1] {
	case "provision":
		err = runProvision(ctx, st, msg, os.Args[2:])
	case "hold":
		err = runHold(ctx, st, msg, os.Args[2:])
	case "assign":
		err = runAssign(ctx, st, msg, os.Args[2:])
	case "observe":
		err = runObserve(ctx, st, msg, os.Args[2:])
	case "unobserve":
		err = runUnobserve(ctx, st, msg, os.Args[2:])
	default:
		log.Fatalf("unknown command %q", os.Args[1])
	}
	if err != nil {
		log.Fatalf("%s: %v", os.Args[1], err)
	}
}

func openStore() store.Store {
	if dsn := os.Getenv("BERATUNG_PG_DSN"); dsn != "" {
		st, err := pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		return st
	}
	log.Print("BERATUNG_PG_DSN not set, using in-memory store")
	return store.NewInMemory()
}

func runProvision(ctx context.Context, st store.Store, msg *messaging.Client, args []string) error {
	fs := flag.NewFlagSet("provision", flag.ExitOnError)
	var (
		username     = fs.String("username", "", "unique login name")
		first        = fs.String("first", "", "first name")
		last         = fs.String("last", "", "last name")
		email        = fs.String("email", "", "email address")
		credential   = fs.String("credential", "", "initial credential")
		roles        = fs.String("roles", principal.RoleConsultant, "comma-separated roles")
		supervisor   = fs.Bool("supervisor", false, "grant supervisory capability")
		register     = fs.Bool("appointments", false, "register with the scheduling service")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	idp := identity.NewClient(identity.Config{
		BaseURL:     os.Getenv("BERATUNG_IDENTITY_URL"),
		Realm:       os.Getenv("BERATUNG_IDENTITY_REALM"),
		AdminUser:   os.Getenv("BERATUNG_IDENTITY_ADMIN_USER"),
		AdminSecret: os.Getenv("BERATUNG_IDENTITY_ADMIN_SECRET"),
	})
	legacy := legacychat.NewClient(legacychat.Config{
		BaseURL:   os.Getenv("BERATUNG_LEGACY_URL"),
		AuthToken: os.Getenv("BERATUNG_LEGACY_AUTH_TOKEN"),
		AuthUser:  os.Getenv("BERATUNG_LEGACY_AUTH_USER"),
	})

	var opts []saga.Option
	if base := os.Getenv("BERATUNG_APPOINTMENTS_URL"); base != "" {
		opts = append(opts, saga.WithAppointments(appointmentsClient(base)))
	}
	s := saga.New(idp, msg, legacy, st, opts...)

	p, err := s.Provision(ctx, principal.Input{
		Username:     *username,
		FirstName:    *first,
		LastName:     *last,
		Email:        *email,
		Credential:   *credential,
		Roles:        splitRoles(*roles),
		Supervisor:   *supervisor,
		Appointments: *register,
	})
	if err != nil {
		return err
	}
	fmt.Printf("provisioned %s (provider=%s messaging=%s legacy=%s)\n",
		p.ID, p.ProviderID, p.MessagingID, p.LegacyID)
	return nil
}

func runHold(ctx context.Context, st store.Store, msg *messaging.Client, args []string) error {
	fs := flag.NewFlagSet("hold", flag.ExitOnError)
	var (
		caseID        = fs.String("case", "", "case id")
		agencyID      = fs.String("agency", "", "agency id")
		contactUser   = fs.String("contact-user", "", "contact messaging user id")
		contactSecret = fs.String("contact-secret", "", "contact messaging secret")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	mgr := roomManager(st, msg)
	return mgr.EnsureHoldingRoom(ctx,
		room.Case{ID: *caseID, AgencyID: *agencyID},
		room.Contact{Credentials: messaging.Credentials{UserID: *contactUser, Secret: *contactSecret}})
}

func runAssign(ctx context.Context, st store.Store, msg *messaging.Client, args []string) error {
	fs := flag.NewFlagSet("assign", flag.ExitOnError)
	var (
		caseID        = fs.String("case", "", "case id")
		agencyID      = fs.String("agency", "", "agency id")
		principalID   = fs.String("principal-id", "", "stored principal id")
		userID        = fs.String("principal-user", "", "principal messaging user id")
		secret        = fs.String("principal-secret", "", "principal messaging secret")
		contactUser   = fs.String("contact-user", "", "contact messaging user id")
		contactSecret = fs.String("contact-secret", "", "contact messaging secret")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	member, err := participant(ctx, st, *principalID, *userID, *secret)
	if err != nil {
		return err
	}
	mgr := roomManager(st, msg)
	b, err := mgr.AssignRoom(ctx,
		room.Case{ID: *caseID, AgencyID: *agencyID},
		member,
		room.Contact{Credentials: messaging.Credentials{UserID: *contactUser, Secret: *contactSecret}})
	if err != nil {
		return err
	}
	fmt.Printf("assigned case %s to %s (room=%s)\n", b.CaseID, b.AssignedTo, b.RoomID)
	return nil
}

func runObserve(ctx context.Context, st store.Store, msg *messaging.Client, args []string) error {
	fs := flag.NewFlagSet("observe", flag.ExitOnError)
	var (
		caseID      = fs.String("case", "", "case id")
		principalID = fs.String("principal-id", "", "observing principal id")
		userID      = fs.String("principal-user", "", "observer messaging user id")
		secret      = fs.String("principal-secret", "", "observer messaging secret")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	observer, err := participant(ctx, st, *principalID, *userID, *secret)
	if err != nil {
		return err
	}
	mgr := roomManager(st, msg)
	grant, err := mgr.AttachObserver(ctx, room.Case{ID: *caseID}, observer)
	if err != nil {
		return err
	}
	fmt.Printf("observer %s attached to room %s at level %d\n", grant.PrincipalID, grant.RoomID, grant.Level)
	return nil
}

func runUnobserve(ctx context.Context, st store.Store, msg *messaging.Client, args []string) error {
	fs := flag.NewFlagSet("unobserve", flag.ExitOnError)
	var (
		caseID      = fs.String("case", "", "case id")
		principalID = fs.String("principal-id", "", "observing principal id")
		userID      = fs.String("principal-user", "", "observer messaging user id")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	observer, err := participant(ctx, st, *principalID, *userID, "")
	if err != nil {
		return err
	}
	return roomManager(st, msg).DetachObserver(ctx, room.Case{ID: *caseID}, observer)
}

func roomManager(st store.Store, msg *messaging.Client) *room.Manager {
	system := messaging.Credentials{
		UserID: os.Getenv("BERATUNG_SYSTEM_USER"),
		Secret: os.Getenv("BERATUNG_SYSTEM_SECRET"),
	}
	return room.NewManager(msg, st, envCredentialSource{}, system)
}

func participant(ctx context.Context, st store.Store, principalID, userID, secret string) (room.Participant, error) {
	p, err := st.FindPrincipal(ctx, principalID)
	if err != nil {
		return room.Participant{}, fmt.Errorf("find principal %s: %w", principalID, err)
	}
	if userID == "" {
		userID = p.MessagingID
	}
	return room.Participant{
		Principal:   p,
		Credentials: messaging.Credentials{UserID: userID, Secret: secret},
	}, nil
}

// envCredentialSource reads agency service accounts from
// BERATUNG_AGENCY_ACCOUNTS, formatted "agency1=@user:srv/secret,agency2=...".
type envCredentialSource struct{}

func (envCredentialSource) AgencyAccount(ctx context.Context, agencyID string) (messaging.Credentials, bool, error) {
	for _, entry := range strings.Split(os.Getenv("BERATUNG_AGENCY_ACCOUNTS"), ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok || key != agencyID {
			continue
		}
		user, secret, ok := strings.Cut(value, "/")
		if !ok {
			continue
		}
		return messaging.Credentials{UserID: user, Secret: secret}, true, nil
	}
	return messaging.Credentials{}, false, nil
}

func appointmentsClient(base string) *appointments.Client {
	return appointments.NewClient(appointments.Config{
		BaseURL: base,
		Token:   os.Getenv("BERATUNG_APPOINTMENTS_TOKEN"),
	})
}

func splitRoles(s string) []string {
	var roles []string
	for _, r := range strings.Split(s, ",") {
		if r = strings.TrimSpace(r); r != "" {
			roles = append(roles, r)
		}
	}
	return roles
}
