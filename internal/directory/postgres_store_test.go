package directory

import (
	"testing"

	"github.com/mbd888/agentbazaar/internal/testutil"
)

func TestPostgresStore(t *testing.T) {
	db, cleanup := testutil.PGTest(t)
	defer cleanup()

	storeContract(t, func(t *testing.T) Store {
		_, err := db.Exec("TRUNCATE agents RESTART IDENTITY")
		if err != nil {
			t.Fatalf("truncate agents: %v", err)
		}
		return NewPostgresStore(db)
	})
}
