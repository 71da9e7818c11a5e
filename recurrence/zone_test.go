package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus/jobs/errors"
)

func TestResolveZone(t *testing.T) {
	tests := []struct {
		input string
		iana  string
	}{
		{"American Samoa", "Pacific/Pago_Pago"},
		{"american samoa", "Pacific/Pago_Pago"},
		{"Chennai", "Asia/Kolkata"},
		{"UTC", "Etc/UTC"},
		{"Pacific/Pago_Pago", "Pacific/Pago_Pago"},
		{"America/Port_of_Spain", "America/Port_of_Spain"},
		{"  Europe/Amsterdam ", "Europe/Amsterdam"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			zone, err := ResolveZone(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.iana, zone.Location.String())
		})
	}
}

func TestResolveZone_NeverGuesses(t *testing.T) {
	for _, input := range []string{"", "Local", "-11:00", "Samoa Standard", "Atlantis"} {
		t.Run(input, func(t *testing.T) {
			_, err := ResolveZone(input)
			require.Error(t, err)
			assert.True(t, errors.HasFieldCode(err, "time_zone", errors.CodeInvalidTimezone))
		})
	}
}

func TestZoneNames(t *testing.T) {
	at := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	names := ZoneNames(at)
	require.Len(t, names, len(displayZones))

	var samoa *ZoneOption
	for i := range names {
		if names[i].Name == "American Samoa" {
			samoa = &names[i]
		}
	}
	require.NotNil(t, samoa)
	assert.Equal(t, "Pacific/Pago_Pago", samoa.IANA)
	assert.Equal(t, "-11:00", samoa.Offset)

	// Sorted by offset, westernmost first
	assert.Equal(t, "-11:00", names[0].Offset)
	assert.Contains(t, []string{"+13:00", "+14:00"}, names[len(names)-1].Offset)

	for _, opt := range names {
		assert.True(t, ValidZone(opt.Name), opt.Name)
	}
}

func TestFormatOffset(t *testing.T) {
	assert.Equal(t, "+05:30", formatOffset(5*3600+30*60))
	assert.Equal(t, "-03:30", formatOffset(-(3*3600 + 30*60)))
	assert.Equal(t, "+00:00", formatOffset(0))
}
