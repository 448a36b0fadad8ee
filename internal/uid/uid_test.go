package uid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	u, err := Parse("7a70:00002001")
	require.NoError(t, err)
	assert.Equal(t, uint16(0x7a70), u.ManufacturerID)
	assert.Equal(t, uint32(0x2001), u.DeviceID)
	assert.Equal(t, "7a70:00002001", u.String())
}

func TestParseInvalid(t *testing.T) {
	_, err := Parse("not-a-uid")
	assert.Error(t, err)
}

func TestPackUnpackRoundTrip(t *testing.T) {
	u := New(0x7a70, 0x2001)
	buf := make([]byte, Size)
	require.NoError(t, u.Pack(buf))
	back, err := FromBytes(buf)
	require.NoError(t, err)
	assert.Equal(t, u, back)
}

func TestFromStringRoundTrip(t *testing.T) {
	u := New(0x1234, 0xdeadbeef)
	back, err := Parse(u.String())
	require.NoError(t, err)
	assert.Equal(t, u, back)
}

func TestBroadcastPredicates(t *testing.T) {
	all := AllDevicesUID()
	assert.True(t, all.IsBroadcast())
	assert.Equal(t, AllManufacturers, all.ManufacturerID)

	vendorcast := VendorcastAddress(0x7a70)
	assert.True(t, vendorcast.IsBroadcast())
	assert.Equal(t, uint16(0x7a70), vendorcast.ManufacturerID)
}

func TestDirectedToUID(t *testing.T) {
	target := New(0x7a70, 1)

	assert.True(t, target.DirectedToUID(target))
	assert.True(t, AllDevicesUID().DirectedToUID(target))
	assert.True(t, VendorcastAddress(0x7a70).DirectedToUID(target))
	assert.False(t, VendorcastAddress(0x0808).DirectedToUID(target))
	assert.False(t, New(0x7a70, 2).DirectedToUID(target))
}

func TestOrdering(t *testing.T) {
	a := New(0x0001, 0xffffffff)
	b := New(0x0002, 0x00000000)
	assert.True(t, a.Less(b))
	assert.Equal(t, -1, a.Compare(b))
	assert.Equal(t, 1, b.Compare(a))
	assert.Equal(t, 0, a.Compare(a))
}

func TestToUint64RoundTrip(t *testing.T) {
	u := New(0xabcd, 0x12345678)
	back := FromUint64(u.ToUint64())
	assert.Equal(t, u, back)
}
