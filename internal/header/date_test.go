package header

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	utc := func(y int, m time.Month, d, hh, mm, ss int) time.Time {
		return time.Date(y, m, d, hh, mm, ss, 0, time.UTC)
	}

	zoned := []struct {
		name string
		in   string
		want time.Time
	}{
		{"RFC 822 with numeric zone", "Sat, 20 Aug 2005 12:00:00 +0900", utc(2005, 8, 20, 3, 0, 0)},
		{"no space after weekday comma", "Sat,20 Aug 2005 12:00:00 -0130", utc(2005, 8, 20, 13, 30, 0)},
		{"no weekday, two-digit year", "20 Aug 05 12:00:00 GMT", utc(2005, 8, 20, 12, 0, 0)},
		{"two-digit year in the last century", "Fri, 1 Jan 99 00:00:00 UT", utc(1999, 1, 1, 0, 0, 0)},
		{"RFC 850", "Sunday, 06-Nov-94 08:49:37 GMT", utc(1994, 11, 6, 8, 49, 37)},
		{"asctime with zone", "Sat Aug 20 12:00:00 JST 2005", utc(2005, 8, 20, 3, 0, 0)},
		{"no seconds", "Sat, 20 Aug 2005 12:34 +0000", utc(2005, 8, 20, 12, 34, 0)},
		{"no weekday no seconds", "20 Aug 2005 12:34 EST", utc(2005, 8, 20, 17, 34, 0)},
		{"folded whitespace", "Sat, 20 Aug 2005\n 12:00:00 +0000", utc(2005, 8, 20, 12, 0, 0)},
		{"full month name", "20 August 2005 12:00:00 +0000", utc(2005, 8, 20, 12, 0, 0)},
	}
	for _, tt := range zoned {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.in)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %v, got %v", tt.want, got.UTC())
		})
	}

	t.Run("ISO date is local time", func(t *testing.T) {
		got, err := ParseDate("2005-08-20 12:00:00")
		require.NoError(t, err)
		assert.True(t, time.Date(2005, 8, 20, 12, 0, 0, 0, time.Local).Equal(got))
	})

	t.Run("ctime is local time", func(t *testing.T) {
		got, err := ParseDate("Sat Aug 20 12:00:00 2005")
		require.NoError(t, err)
		assert.True(t, time.Date(2005, 8, 20, 12, 0, 0, 0, time.Local).Equal(got))
	})

	t.Run("missing zone is local time", func(t *testing.T) {
		got, err := ParseDate("Sat, 20 Aug 2005 12:00:00")
		require.NoError(t, err)
		assert.True(t, time.Date(2005, 8, 20, 12, 0, 0, 0, time.Local).Equal(got))
	})

	t.Run("clamps far future dates", func(t *testing.T) {
		got, err := ParseDate("1 Jan 2100 00:00:00 +0000")
		require.NoError(t, err)
		assert.Equal(t, int64(math.MaxInt32), got.Unix())
	})

	t.Run("rejects garbage", func(t *testing.T) {
		got, err := ParseDate("yesterday-ish")
		assert.ErrorIs(t, err, ErrBadDate)
		assert.True(t, got.IsZero())
	})

	t.Run("rejects impossible month", func(t *testing.T) {
		_, err := ParseDate("20 Foo 2005 12:00:00 +0000")
		assert.ErrorIs(t, err, ErrBadDate)
	})
}
