package grbl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastercactapus/cncstream/machine"
	"github.com/mastercactapus/cncstream/stream"
)

func TestRecognizer(t *testing.T) {
	for line, want := range map[string]stream.ResponseKind{
		"ok":                       stream.Ack,
		"error:20":                 stream.Error,
		"Grbl 1.1h ['$' for help]": stream.Reset,
		"Grbl 0.9j ['$' for help]": stream.Reset,
	} {
		resp, ok := Recognizer.Recognize(line)
		require.True(t, ok, line)
		assert.Equal(t, want, resp.Kind, line)
		assert.Equal(t, line, resp.Line)
	}

	for _, line := range []string{
		"<Idle|MPos:0.000,0.000,0.000|FS:0,0>",
		"[MSG:'$H'|'$X' to unlock]",
		"ALARM:1",
		"okay",
		"Grbl",
	} {
		_, ok := Recognizer.Recognize(line)
		assert.False(t, ok, line)
	}
}

func TestParseError(t *testing.T) {
	e, ok := ParseError("error:22")
	require.True(t, ok)
	assert.Equal(t, 22, e.Code)
	assert.Equal(t, "grbl error 22: undefined feed rate", e.Error())

	e, ok = ParseError("error:99")
	require.True(t, ok)
	assert.Equal(t, "grbl error 99: unknown error", e.Error())

	_, ok = ParseError("error:Bad number format")
	assert.False(t, ok)
	_, ok = ParseError("ok")
	assert.False(t, ok)

	g := New()
	var gerr *Error
	assert.ErrorAs(t, g.DecodeError("error:2"), &gerr)
	var rerr *stream.ResponseError
	assert.ErrorAs(t, g.DecodeError("error: something"), &rerr)
}

func TestGRBL_Commands(t *testing.T) {
	g := New()
	assert.Equal(t, "$J=G21G91F10000X10", g.Jog('X', 10))
	assert.Equal(t, "$J=G21G91F10000Z-0.1", g.Jog('Z', -0.1))
	assert.Equal(t, "G10L20P1Y0", g.WPos('Y', 0))
	assert.Equal(t, "$H", g.Home())
	assert.Equal(t, byte(0x18), g.Reset())
	assert.Equal(t, RXBufferSize, g.BufferSize())
}

func TestGRBL_HandleLine(t *testing.T) {
	g := New()

	_, ok := g.LastStatus()
	assert.False(t, ok)

	require.NoError(t, g.HandleLine("[MSG:Caution: Unlocked]"))
	_, ok = g.LastStatus()
	assert.False(t, ok)

	require.NoError(t, g.HandleLine("<Idle|MPos:1.000,2.000,3.000|FS:0,0|WCO:1.000,1.000,1.000>"))
	require.NoError(t, g.HandleLine("<Run|MPos:2.000,2.000,3.000|FS:500,0>"))

	st, ok := g.LastStatus()
	require.True(t, ok)
	assert.Equal(t, "Run", st.State)
	assert.Equal(t, machine.Position{X: 1, Y: 1, Z: 2}, st.WPos)

	// only the newest update is kept for slow readers
	select {
	case got := <-g.Status():
		assert.Equal(t, "Run", got.StatusText())
	default:
		t.Fatal("expected status update")
	}

	assert.Error(t, g.HandleLine("<Idle|MPos:a,b,c>"))
	st, _ = g.LastStatus()
	assert.Equal(t, "Run", st.State)
}

func TestStatus_Parse(t *testing.T) {
	var st Status
	err := st.Parse("<Hold:0|WPos:10.000,-5.500,1.250|Bf:15,128|FS:1200,8000|Ov:100,50,120|A:SFM|Pn:XZP>")
	require.NoError(t, err)

	assert.Equal(t, "Hold:0", st.State)
	assert.Equal(t, machine.Position{X: 10, Y: -5.5, Z: 1.25}, st.WPos)
	assert.Equal(t, st.WPos, st.MPos)
	assert.Equal(t, 15, st.PlannerFree)
	assert.Equal(t, 128, st.RXFree)
	assert.Equal(t, 1200.0, st.Feed)
	assert.Equal(t, 8000.0, st.Spindle)
	assert.Equal(t, 50.0, st.Override.Rapid)
	assert.True(t, st.Accessory.SpindleEnabled)
	assert.False(t, st.Accessory.SpindleCCW)
	assert.True(t, st.Accessory.Flood)
	assert.True(t, st.Accessory.Mist)
	assert.Equal(t, PinStatus{X: true, Z: true, P: true}, st.Pins)
	assert.False(t, st.IsReady())

	require.NoError(t, st.Parse("<Alarm|MPos:0.000,0.000,0.000|WCO:-1.000,0.000,0.000>"))
	assert.True(t, st.IsAlarm())
	assert.Equal(t, machine.Position{X: 1}, st.WorkPosition())
	assert.Equal(t, PinStatus{}, st.Pins)

	assert.Error(t, st.Parse("Idle|MPos:0,0,0"))
	assert.Error(t, st.Parse("<Idle|FS:1>"))
}
