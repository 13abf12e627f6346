// Command seed loads a demo organization, a few identities and one
// encrypted case record into Postgres. Development convenience only;
// it refuses to run without an explicit DSN.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"log"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"aidgate.org/internal/access"
	"aidgate.org/internal/auth"
	"aidgate.org/internal/vault"
)

func main() {
	log.SetFlags(0)
	var (
		dsn         = flag.String("dsn", os.Getenv("AIDGATE_PG_DSN"), "PostgreSQL DSN")
		vaultSecret = flag.String("vault-secret", os.Getenv("AIDGATE_VAULT_SECRET"), "field encryption secret")
		password    = flag.String("password", "change-me-now", "password for all seeded identities")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or AIDGATE_PG_DSN")
	}
	if *vaultSecret == "" {
		log.Fatal("missing vault secret: provide via -vault-secret or AIDGATE_VAULT_SECRET")
	}

	fieldVault, err := vault.New(*vaultSecret)
	if err != nil {
		log.Fatalf("init vault: %v", err)
	}

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := auth.NewPGStore(db)
	records := access.NewPGStore(db)

	org := &auth.Organization{Name: "Demo Relief Org", Status: auth.OrgVerified}
	if err := store.Organizations(ctx).Create(ctx, org); err != nil {
		log.Fatalf("create organization: %v", err)
	}

	hash, err := auth.HashPassword(*password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	identities := []*auth.Identity{
		{Email: "admin@aidgate.local", PasswordHash: hash, Role: auth.RoleAdmin, Active: true},
		{Email: "staff@aidgate.local", PasswordHash: hash, Role: auth.RoleOrgStaff, OrganizationID: org.ID, Active: true},
		{Email: "worker@aidgate.local", PasswordHash: hash, Role: auth.RoleFieldWorker, Active: true},
		{Email: "beneficiary@aidgate.local", PasswordHash: hash, Role: auth.RoleBeneficiary, Active: true},
	}
	for _, identity := range identities {
		if err := store.Identities(ctx).Create(ctx, identity); err != nil {
			log.Fatalf("create identity %s: %v", identity.Email, err)
		}
	}

	conf := access.Confidential{
		Name:     "Demo Beneficiary",
		Phone:    "+961-3-000000",
		Location: "Shelter 12, Block 4",
		Details:  "Family of five, medication resupply needed",
	}
	raw, err := json.Marshal(conf)
	if err != nil {
		log.Fatalf("marshal payload: %v", err)
	}
	payload, err := fieldVault.Encrypt(string(raw))
	if err != nil {
		log.Fatalf("encrypt payload: %v", err)
	}

	record := &access.Record{
		OwnerID:       identities[3].ID,
		AssignedOrgID: org.ID,
		Category:      "MEDICAL",
		Region:        "Zahle, Bekaa Governorate",
		Country:       "LB",
		Urgency:       "HIGH",
		Status:        "OPEN",
		Payload:       payload,
	}
	if err := records.Create(ctx, record); err != nil {
		log.Fatalf("create record: %v", err)
	}

	log.Printf("seeded organization %s, %d identities, record %s", org.ID, len(identities), record.ID)
}
