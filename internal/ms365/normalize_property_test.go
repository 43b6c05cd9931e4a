package ms365

import (
	"strconv"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestProperty_ParseTraceTime(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	// Wall-clock timestamps at second precision.
	genUnixSeconds := gen.Int64Range(
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC).Unix(),
		time.Date(2030, 12, 31, 23, 59, 59, 0, time.UTC).Unix(),
	)

	properties.Property("rfc3339_round_trips", prop.ForAll(
		func(unix int64) bool {
			want := time.Unix(unix, 0).UTC()
			got, ok := ParseTraceTime(want.Format(time.RFC3339))
			return ok && got.Equal(want)
		},
		genUnixSeconds,
	))

	properties.Property("epoch_millis_round_trips", prop.ForAll(
		func(unix int64) bool {
			want := time.Unix(unix, 0).UTC()
			value := "/Date(" + strconv.FormatInt(want.UnixMilli(), 10) + ")/"
			got, ok := ParseTraceTime(value)
			return ok && got.Equal(want)
		},
		genUnixSeconds,
	))

	properties.Property("never_panics_on_arbitrary_input", prop.ForAll(
		func(value string) bool {
			_, _ = ParseTraceTime(value)
			return true
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestProperty_NormalizeStatusAlwaysValid(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("result_is_in_stored_status_set", prop.ForAll(
		func(raw string) bool {
			return NormalizeStatus(raw).IsValid()
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}
