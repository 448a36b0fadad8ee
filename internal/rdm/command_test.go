package rdm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rdmcore/internal/uid"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	req := &Request{
		SourceUID:         uid.New(0x7a70, 1),
		DestinationUID:    uid.New(0x7a70, 2),
		TransactionNumber: 42,
		PortID:            0,
		MessageCount:      0,
		SubDevice:         RootSubDevice,
		CommandClass:      GetCommand,
		ParamID:           0x0060,
		ParamData:         []byte{0x01, 0x02, 0x03},
	}

	packed, err := Pack(req)
	require.NoError(t, err)

	resp, err := Unpack(packed)
	require.NoError(t, err)

	assert.Equal(t, req.SourceUID, resp.SourceUID)
	assert.Equal(t, req.DestinationUID, resp.DestinationUID)
	assert.Equal(t, req.TransactionNumber, resp.TransactionNumber)
	assert.Equal(t, req.SubDevice, resp.SubDevice)
	assert.Equal(t, req.CommandClass, resp.CommandClass)
	assert.Equal(t, req.ParamID, resp.ParamID)
	assert.Equal(t, req.ParamData, resp.ParamData)
}

func TestPackRejectsOversizedParamData(t *testing.T) {
	req := &Request{ParamData: make([]byte, MaxParamDataLength+1)}
	_, err := Pack(req)
	assert.Error(t, err)
}

func TestUnpackTooShort(t *testing.T) {
	_, err := Unpack([]byte{StartCode, SubStartCode, 0x01})
	assert.Error(t, err)
	assert.Equal(t, PacketTooShort, StatusForUnpackError(err))
}

func TestUnpackWrongSubStartCode(t *testing.T) {
	req := &Request{
		SourceUID:      uid.New(1, 1),
		DestinationUID: uid.New(1, 2),
		CommandClass:   GetCommand,
	}
	packed, err := Pack(req)
	require.NoError(t, err)
	packed[1] = 0xff

	_, err = Unpack(packed)
	require.Error(t, err)
	assert.Equal(t, WrongSubStartCode, StatusForUnpackError(err))
}

func TestUnpackChecksumIncorrect(t *testing.T) {
	req := &Request{
		SourceUID:      uid.New(1, 1),
		DestinationUID: uid.New(1, 2),
		CommandClass:   GetCommand,
	}
	packed, err := Pack(req)
	require.NoError(t, err)
	packed[len(packed)-1] ^= 0xff

	_, err = Unpack(packed)
	require.Error(t, err)
	assert.Equal(t, ChecksumIncorrect, StatusForUnpackError(err))
}

func TestValidateResponseMismatches(t *testing.T) {
	req := &Request{
		SourceUID:         uid.New(1, 1),
		DestinationUID:    uid.New(1, 2),
		TransactionNumber: 5,
		SubDevice:         RootSubDevice,
		CommandClass:      GetCommand,
		ParamID:           0x0060,
	}
	valid := &Response{
		SourceUID:         req.DestinationUID,
		DestinationUID:    req.SourceUID,
		TransactionNumber: req.TransactionNumber,
		SubDevice:         req.SubDevice,
		CommandClass:      GetCommandResponse,
		ParamID:           req.ParamID,
	}
	status, err := ValidateResponse(req, valid)
	require.NoError(t, err)
	assert.Equal(t, CompletedOK, status)

	badTxn := *valid
	badTxn.TransactionNumber = 99
	status, err = ValidateResponse(req, &badTxn)
	assert.Error(t, err)
	assert.Equal(t, TransactionMismatch, status)

	badSrc := *valid
	badSrc.SourceUID = uid.New(9, 9)
	status, _ = ValidateResponse(req, &badSrc)
	assert.Equal(t, SrcUIDMismatch, status)

	badClass := *valid
	badClass.CommandClass = SetCommandResponse
	status, _ = ValidateResponse(req, &badClass)
	assert.Equal(t, CommandClassMismatch, status)
}

func TestFragmentsMatch(t *testing.T) {
	first := &Response{SourceUID: uid.New(1, 1), DestinationUID: uid.New(1, 2), SubDevice: 0, CommandClass: GetCommandResponse, ParamID: 1}
	same := *first
	assert.True(t, FragmentsMatch(first, &same))

	diff := *first
	diff.SourceUID = uid.New(9, 9)
	assert.False(t, FragmentsMatch(first, &diff))
}
