package errors

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeRPCError struct {
	code int
	data any
}

func (e fakeRPCError) Error() string  { return "execution reverted" }
func (e fakeRPCError) ErrorCode() int { return e.code }
func (e fakeRPCError) ErrorData() any { return e.data }

func TestDumpExtractsPostgresFields(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "blockchain_deposits_tx_hash_key", TableName: "blockchain_deposits"}
	err := Wrap(CodeConflict, fmt.Errorf("insert deposit: %w", pgErr), "duplicate deposit")

	dump := Dump(err)

	require.Equal(t, CodeConflict, dump.Code)
	require.Equal(t, "23505", dump.PGCode)
	require.Equal(t, "blockchain_deposits_tx_hash_key", dump.PGConstraint)
	require.Equal(t, "blockchain_deposits", dump.PGTable)
	require.Len(t, dump.Chain, 3)
}

func TestDumpExtractsRPCFields(t *testing.T) {
	err := Wrap(CodeDependency, fmt.Errorf("send transfer: %w", fakeRPCError{code: -32000, data: "0x08c379a0"}), "chain unavailable")

	dump := Dump(err)

	require.Equal(t, CodeDependency, dump.Code)
	require.Equal(t, -32000, dump.RPCCode)
	require.Equal(t, "0x08c379a0", dump.RPCData)
	require.Empty(t, dump.PGCode)
}

func TestDumpNil(t *testing.T) {
	require.Equal(t, ErrorDump{}, Dump(nil))
}
