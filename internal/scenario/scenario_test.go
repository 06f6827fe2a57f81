package scenario

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/benchctl/benchctl/internal/model"
	"github.com/benchctl/benchctl/internal/obs/errs"
)

func validScenario() *Scenario {
	return &Scenario{
		TemplateID:      "t1",
		Target:          Target{Adapter: "sqlite", DSN: "file::memory:"},
		Table:           "accounts",
		DurationSeconds: 10,
		LoadMode:        model.LoadModeFixedConcurrency,
		TargetConcurrency: 4,
		Mix: map[model.QueryKind]float64{
			model.KindPointLookup: 100,
		},
		Operations: map[model.QueryKind]Operation{
			model.KindPointLookup: {SQLTemplate: "SELECT * FROM accounts WHERE id = ?", BindSource: "pk"},
		},
	}
}

func TestValidate_HappyPath(t *testing.T) {
	require.NoError(t, Validate(validScenario()))
}

func TestValidate_MixSumNot100(t *testing.T) {
	s := validScenario()
	s.Mix[model.KindInsert] = 1
	s.Operations[model.KindInsert] = Operation{SQLTemplate: "INSERT ...", BindSource: "gen"}

	err := Validate(s)
	require.Error(t, err)
	class, ok := errs.ClassOf(err)
	require.True(t, ok)
	require.Equal(t, errs.ClassConfig, class)
}

func TestValidate_FixedConcurrencyZeroRejected(t *testing.T) {
	s := validScenario()
	s.TargetConcurrency = 0

	err := Validate(s)
	require.Error(t, err)
}

func TestValidate_TargetQPSRequiresPositive(t *testing.T) {
	s := validScenario()
	s.LoadMode = model.LoadModeTargetQPS
	s.TargetQPS = 0

	require.Error(t, Validate(s))

	s.TargetQPS = 100
	require.NoError(t, Validate(s))
}

func TestValidate_FindMaxRequiresIncrement(t *testing.T) {
	s := validScenario()
	s.LoadMode = model.LoadModeFindMaxConcurrency
	s.FindMax = &FindMax{Start: 2, Max: 64, TStepSeconds: 10, TWarmSeconds: 2}

	require.Error(t, Validate(s))

	linear := 4
	s.FindMax.Increment = Increment{Linear: &linear}
	require.NoError(t, Validate(s))
}

func TestValidate_MixWithoutOperationRejected(t *testing.T) {
	s := validScenario()
	delete(s.Operations, model.KindPointLookup)

	require.Error(t, Validate(s))
}

func TestParse_StrictRejectsUnknownKeys(t *testing.T) {
	_, err := Parse([]byte("template_id: t1\nbogus_field: true\n"))
	require.Error(t, err)
}

func TestExpectedWorkersOrDefault(t *testing.T) {
	s := validScenario()
	require.Equal(t, 1, ExpectedWorkersOrDefault(s))
	s.ExpectedWorkers = 5
	require.Equal(t, 5, ExpectedWorkersOrDefault(s))
}
