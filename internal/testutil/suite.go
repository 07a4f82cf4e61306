package testutil

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"github.com/uptrace/bun"
)

// EnvIntegration enables database-backed suites.
const EnvIntegration = "ENTITYGRAPH_INTEGRATION"

// BaseSuite gives each suite its own database and each test its own
// transaction, rolled back in TearDownTest. Suites skip unless
// ENTITYGRAPH_INTEGRATION is set.
//
//	type RepoSuite struct {
//	    testutil.BaseSuite
//	}
//
//	func (s *RepoSuite) TestInsert() {
//	    repo := graph.NewRepository(s.DB(), slog.Default())
//	    ...
//	}
type BaseSuite struct {
	suite.Suite
	TestDB   *TestDB
	Ctx      context.Context
	TenantID uuid.UUID

	dbSuffix string
}

// SetDBSuffix sets the database name suffix. Call before BaseSuite.SetupSuite.
func (s *BaseSuite) SetDBSuffix(suffix string) {
	s.dbSuffix = suffix
}

// SetupSuite creates the test database.
func (s *BaseSuite) SetupSuite() {
	if os.Getenv(EnvIntegration) == "" {
		s.T().Skipf("set %s=1 to run database tests", EnvIntegration)
	}
	s.Ctx = context.Background()

	suffix := s.dbSuffix
	if suffix == "" {
		suffix = "suite"
	}
	db, err := SetupTestDB(s.Ctx, suffix)
	s.Require().NoError(err, "failed to setup test database")
	s.TestDB = db
}

// TearDownSuite drops the test database.
func (s *BaseSuite) TearDownSuite() {
	if s.TestDB != nil {
		s.TestDB.Close()
	}
}

// SetupTest opens the per-test transaction and picks a fresh tenant.
func (s *BaseSuite) SetupTest() {
	s.Require().NoError(s.TestDB.BeginTestTx(s.Ctx), "failed to begin test transaction")
	s.TenantID = uuid.New()
}

// TearDownTest rolls back the per-test transaction.
func (s *BaseSuite) TearDownTest() {
	_ = s.TestDB.RollbackTestTx()
}

// DB returns the current transaction.
func (s *BaseSuite) DB() bun.IDB {
	return s.TestDB.GetDB()
}
