package inspector

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lstf-lang/lstf/internal/bcformat"
	"github.com/lstf-lang/lstf/internal/bytecode"
	"github.com/lstf-lang/lstf/internal/vm"
)

func loadTestProgram(t *testing.T) *bcformat.Program {
	t.Helper()
	prog := bytecode.NewProgram()
	main := &bytecode.Function{Name: "main"}
	main.Instructions = []*bytecode.Instruction{
		{Op: bytecode.OpParams, Count: 0},
		{Op: bytecode.OpReturn},
	}
	require.NoError(t, prog.AddFunction(main))
	prog.EntryFunction = "main"

	raw, err := bcformat.Serialize(prog)
	require.NoError(t, err)
	loaded, err := bcformat.Load(raw)
	require.NoError(t, err)
	return loaded
}

func TestListCoroutinesReportsStartedCoroutine(t *testing.T) {
	loaded := loadTestProgram(t)
	m := vm.New(loaded, nil)
	m.Start(nil)

	ins := New(m)
	srv := httptest.NewServer(ins.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/coroutines")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)
}

func TestDescribeValueFallsBackOnUnconvertibleKind(t *testing.T) {
	v := vm.ClosureValue(nil)
	require.Contains(t, describeValue(v), "closure")
}
