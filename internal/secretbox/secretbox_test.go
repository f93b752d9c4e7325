package secretbox

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKey() []byte { return bytes.Repeat([]byte{7}, 32) }

func TestSealOpenRoundTrip(t *testing.T) {
	box, err := New(testKey(), nil)
	require.NoError(t, err)

	sealed, err := box.Seal([]byte("Hello!\xde\xad\xbe\xef"), "user-42")
	require.NoError(t, err)
	require.True(t, IsSealed(sealed))

	pt, err := box.Open(sealed, "user-42")
	require.NoError(t, err)
	require.Equal(t, []byte("Hello!\xde\xad\xbe\xef"), pt)
}

func TestOpenRejectsWrongOwnerAndTampering(t *testing.T) {
	box, err := New(testKey(), nil)
	require.NoError(t, err)
	sealed, err := box.Seal([]byte("secret"), "user-1")
	require.NoError(t, err)

	_, err = box.Open(sealed, "user-2")
	require.ErrorIs(t, err, ErrOpen)

	tampered := sealed[:len(sealed)-2] + "AA"
	if tampered == sealed {
		tampered = sealed[:len(sealed)-2] + "BB"
	}
	_, err = box.Open(tampered, "user-1")
	require.ErrorIs(t, err, ErrOpen)

	_, err = box.Open("JBSWY3DPEHPK3PXP", "user-1")
	require.ErrorIs(t, err, ErrOpen)
}

func TestNewRejectsShortKey(t *testing.T) {
	_, err := New([]byte("short"), nil)
	require.ErrorIs(t, err, ErrInvalidKey)
}
