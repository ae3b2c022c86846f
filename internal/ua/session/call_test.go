package session

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/sebas/softphone/internal/ua/engine"
	"github.com/sebas/softphone/internal/ua/engine/enginetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bob = "sip:bob@example.com"

var helloPlayer = PlayerConfig{Player: &FileConfig{Filename: "hello.wav"}}

func dial(t *testing.T, rs *RegistrationSession, acct *enginetest.Account) (*CallSession, *enginetest.Call) {
	t.Helper()
	cs, err := rs.MakeCall(bob, MakeCallOptions{})
	require.NoError(t, err)
	call := acct.LastCall()
	require.NotNil(t, call)
	return cs, call
}

func recordCallEvents(cs *CallSession) *[]CallEvent {
	var got []CallEvent
	cs.OnEvent(func(ev CallEvent) { got = append(got, ev) })
	return &got
}

func eventTypes(evs []CallEvent) []CallEventType {
	out := make([]CallEventType, 0, len(evs))
	for _, ev := range evs {
		if ev.Type != CallEventState {
			out = append(out, ev.Type)
		}
	}
	return out
}

func TestDisconnectOutcomeBranchesOnPriorState(t *testing.T) {
	type step struct {
		state engine.CallState
		code  int
	}
	tests := []struct {
		name    string
		steps   []step
		kind    OutcomeKind
		code    int
		connect error
	}{
		{
			name:  "rejected in early",
			steps: []step{{engine.CallStateCalling, 100}, {engine.CallStateEarly, 180}, {engine.CallStateDisconnected, 486}},
			kind:  OutcomeSetupFailed,
			code:  486,
		},
		{
			name:  "normal end after confirm",
			steps: []step{{engine.CallStateCalling, 100}, {engine.CallStateConnecting, 200}, {engine.CallStateConfirmed, 200}, {engine.CallStateDisconnected, 0}},
			kind:  OutcomeDisconnected,
			code:  0,
		},
		{
			name:  "immediate failure",
			steps: []step{{engine.CallStateDisconnected, 503}},
			kind:  OutcomeSetupFailed,
			code:  503,
		},
		{
			name:  "connecting but never confirmed",
			steps: []step{{engine.CallStateCalling, 100}, {engine.CallStateConnecting, 200}, {engine.CallStateDisconnected, 408}},
			kind:  OutcomeSetupFailed,
			code:  408,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, acct, rs := registered(t)
			cs, call := dial(t, rs, acct)

			for _, s := range tt.steps {
				call.State(s.state, s.code)
			}

			out, ok := cs.Outcome()
			require.True(t, ok)
			assert.Equal(t, tt.kind, out.Kind)
			assert.Equal(t, tt.code, out.StatusCode)

			require.True(t, cs.Connected().Settled())
			if tt.kind == OutcomeSetupFailed {
				var setupErr *SetupFailedError
				require.ErrorAs(t, cs.Connected().Err(), &setupErr)
				assert.Equal(t, tt.code, setupErr.StatusCode)
			} else {
				assert.NoError(t, cs.Connected().Err())
			}
		})
	}
}

func TestCallStateIsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	states := []engine.CallState{
		engine.CallStateCalling,
		engine.CallStateEarly,
		engine.CallStateConnecting,
		engine.CallStateConfirmed,
		engine.CallStateDisconnected,
	}

	for i := 0; i < 200; i++ {
		_, acct, rs := registered(t)
		cs, call := dial(t, rs, acct)

		var (
			last     engine.CallState
			maxPrior engine.CallState
			ended    bool
		)
		n := 1 + rng.Intn(8)
		for j := 0; j < n; j++ {
			st := states[rng.Intn(len(states))]
			if !ended && st != engine.CallStateDisconnected && st > maxPrior {
				maxPrior = st
			}
			if st == engine.CallStateDisconnected {
				ended = true
			}
			call.State(st, 0)

			cur := cs.State()
			require.GreaterOrEqual(t, int(cur), int(last), "state went backwards")
			if ended {
				require.Equal(t, engine.CallStateDisconnected, cur)
			}
			last = cur
		}

		if ended {
			out, ok := cs.Outcome()
			require.True(t, ok)
			if maxPrior >= engine.CallStateConfirmed {
				assert.Equal(t, OutcomeDisconnected, out.Kind)
			} else {
				assert.Equal(t, OutcomeSetupFailed, out.Kind)
			}
		}
	}
}

func TestRegisterDialPlayHangupScenario(t *testing.T) {
	dir := NewDirectory()
	eng, acct, rs := registered(t, WithDirectory(dir), WithPlayerConfig(helloPlayer))

	cs, call := dial(t, rs, acct)
	events := recordCallEvents(cs)
	assert.Equal(t, []string{"engine.createPlayer", "account-1.makeCall sip:bob@example.com"}, eng.Commands())
	assert.Equal(t, "", cs.ID(), "call id is learned from the engine")

	call.State(engine.CallStateCalling, 0)
	got, ok := dir.Lookup("call-1")
	require.True(t, ok)
	assert.Same(t, cs, got)

	call.State(engine.CallStateEarly, 180)
	call.State(engine.CallStateConnecting, 200)
	call.State(engine.CallStateConfirmed, 200)
	require.NoError(t, cs.Connected().Wait(testContext(t)))

	eng.Reset()
	call.Media(engine.MediaStatusActive)
	assert.Equal(t, []string{
		"player-1.play hello.wav",
		"player-1.startTransmit call-1/media-0",
	}, eng.Commands())

	eng.Reset()
	hangup, err := cs.Hangup(0, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"player-1.stopTransmit call-1/media-0",
		"call-1.hangup 603",
	}, eng.Commands(), "transmit must stop before the hangup command")
	assert.False(t, hangup.Settled())

	eng.Reset()
	call.State(engine.CallStateDisconnected, 0)

	require.NoError(t, hangup.Wait(testContext(t)))
	assert.Equal(t, []string{"player-1.close"}, eng.Commands())
	out, ok := cs.Outcome()
	require.True(t, ok)
	assert.Equal(t, CallOutcome{Kind: OutcomeDisconnected, StatusCode: 0}, out)

	assert.False(t, call.HasHandler())
	_, ok = dir.Lookup("call-1")
	assert.False(t, ok)
	select {
	case <-cs.Done():
	default:
		t.Fatal("Done() not closed after disconnect")
	}

	_, err = cs.Hangup(0, "")
	assert.ErrorIs(t, err, ErrCallTerminated)
	assert.ErrorIs(t, cs.PlaySong("other.wav"), ErrCallTerminated)
	assert.ErrorIs(t, cs.Answer(0, ""), ErrCallTerminated)
	assert.ErrorIs(t, cs.SendInstantMessage("hi"), ErrCallTerminated)

	assert.Equal(t, []CallEventType{
		CallEventConnecting,
		CallEventConfirmed,
		CallEventMedia,
		CallEventDisconnected,
	}, eventTypes(*events))
}

func TestHangupBeforeConfirmRejectsConnect(t *testing.T) {
	eng, acct, rs := registered(t)
	cs, call := dial(t, rs, acct)

	call.State(engine.CallStateCalling, 100)
	call.State(engine.CallStateEarly, 180)

	hangup, err := cs.Hangup(487, "Request Terminated")
	require.NoError(t, err)
	assert.ErrorIs(t, cs.Connected().Err(), ErrCallTerminated)
	assert.Contains(t, eng.Commands(), "call-1.hangup 487")

	_, err = cs.Hangup(0, "")
	assert.ErrorIs(t, err, ErrOperationInProgress)

	call.State(engine.CallStateDisconnected, 487)
	require.NoError(t, hangup.Wait(testContext(t)))

	out, _ := cs.Outcome()
	assert.Equal(t, OutcomeSetupFailed, out.Kind)
	assert.Equal(t, 487, out.StatusCode)
	assert.ErrorIs(t, cs.Connected().Err(), ErrCallTerminated, "connect settles once")
}

func TestHangupEngineFailureKeepsConnectPending(t *testing.T) {
	eng, acct, rs := registered(t)
	cs, call := dial(t, rs, acct)
	call.State(engine.CallStateCalling, 100)

	eng.FailOn("call.hangup", errors.New("no transaction"))
	hangup, err := cs.Hangup(0, "")
	assert.Nil(t, hangup)
	var cmdErr *EngineCommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "hangup", cmdErr.Op)
	assert.False(t, cs.Connected().Settled())

	call.State(engine.CallStateConfirmed, 200)
	assert.NoError(t, cs.Connected().Wait(testContext(t)))
}

var playAndRecord = PlayerConfig{
	Player:   &FileConfig{Filename: "hello.wav"},
	Recorder: &FileConfig{Filename: "rec.wav"},
}

func TestHangupEngineFailureRestoresMedia(t *testing.T) {
	t.Run("active", func(t *testing.T) {
		eng, acct, rs := registered(t, WithPlayerConfig(playAndRecord))
		cs, call := dial(t, rs, acct)
		call.State(engine.CallStateConfirmed, 200)
		call.Media(engine.MediaStatusActive)

		eng.FailOn("call.hangup", errors.New("no dialog"))
		eng.Reset()
		_, err := cs.Hangup(0, "")
		require.Error(t, err)

		assert.True(t, cs.Media().Transmitting())
		assert.True(t, cs.Media().Recording())
		assert.Equal(t, engine.CallStateConfirmed, cs.State())
		assert.NotContains(t, eng.Commands(), "player-1.play hello.wav", "playback resumes without restarting")
		assert.Contains(t, eng.Commands(), "call-1/media-0.startTransmit recorder-1")
	})

	t.Run("on hold", func(t *testing.T) {
		eng, acct, rs := registered(t, WithPlayerConfig(playAndRecord))
		cs, call := dial(t, rs, acct)
		call.State(engine.CallStateConfirmed, 200)
		call.Media(engine.MediaStatusActive)
		call.Media(engine.MediaStatusLocalHold)

		eng.FailOn("call.hangup", errors.New("no dialog"))
		_, err := cs.Hangup(0, "")
		require.Error(t, err)

		assert.False(t, cs.Media().Transmitting())
		assert.True(t, cs.Media().Recording())
	})
}

func TestMediaStaysDetachedWhileHangupPending(t *testing.T) {
	eng, acct, rs := registered(t, WithPlayerConfig(playAndRecord))
	cs, call := dial(t, rs, acct)
	call.State(engine.CallStateConfirmed, 200)
	call.Media(engine.MediaStatusActive)

	hangup, err := cs.Hangup(0, "")
	require.NoError(t, err)
	eng.Reset()

	call.Media(engine.MediaStatusActive)
	assert.Empty(t, eng.Commands())
	assert.False(t, cs.Media().Transmitting())
	assert.False(t, cs.Media().Recording())

	call.State(engine.CallStateDisconnected, 200)
	require.NoError(t, hangup.Wait(testContext(t)))
	assert.Equal(t, []string{"player-1.close", "recorder-1.close"}, eng.Commands())
}

func TestConfirmDuringPendingHangupDoesNotAttach(t *testing.T) {
	eng, acct, rs := registered(t, WithPlayerConfig(playAndRecord))
	cs, call := dial(t, rs, acct)
	call.State(engine.CallStateConnecting, 200)
	call.Media(engine.MediaStatusActive)

	_, err := cs.Hangup(0, "")
	require.NoError(t, err)
	eng.Reset()

	call.State(engine.CallStateConfirmed, 200)
	assert.Empty(t, eng.Commands())
	assert.False(t, cs.Media().Transmitting())
	assert.False(t, cs.Media().Recording())
}

func TestDisconnectIsAppliedOnce(t *testing.T) {
	eng, acct, rs := registered(t, WithPlayerConfig(helloPlayer))
	cs, call := dial(t, rs, acct)
	events := recordCallEvents(cs)

	call.State(engine.CallStateConfirmed, 200)
	eng.Reset()

	info := engine.CallStateInfo{ID: "call-1", State: engine.CallStateDisconnected, LastStatusCode: 200}
	cs.onCallState(info)
	cs.onCallState(info)

	assert.Equal(t, []string{"player-1.close"}, eng.Commands())
	assert.Equal(t, []CallEventType{CallEventConfirmed, CallEventDisconnected}, eventTypes(*events))
}

func TestMediaAttachesWhenActiveAndConfirmed(t *testing.T) {
	t.Run("active before confirmed", func(t *testing.T) {
		eng, acct, rs := registered(t, WithPlayerConfig(helloPlayer))
		_, call := dial(t, rs, acct)
		call.State(engine.CallStateConnecting, 200)
		eng.Reset()

		call.Media(engine.MediaStatusActive)
		assert.Empty(t, eng.CommandsFor("player-1"))

		call.State(engine.CallStateConfirmed, 200)
		assert.Equal(t, []string{
			"player-1.play hello.wav",
			"player-1.startTransmit call-1/media-0",
		}, eng.CommandsFor("player-1"))
	})

	t.Run("confirmed before active", func(t *testing.T) {
		eng, acct, rs := registered(t, WithPlayerConfig(helloPlayer))
		_, call := dial(t, rs, acct)
		call.State(engine.CallStateConfirmed, 200)
		assert.Empty(t, eng.CommandsFor("player-1"))

		call.Media(engine.MediaStatusActive)
		assert.Equal(t, []string{
			"player-1.play hello.wav",
			"player-1.startTransmit call-1/media-0",
		}, eng.CommandsFor("player-1"))
	})
}

func TestRecorderStaysAttachedThroughHold(t *testing.T) {
	cfg := PlayerConfig{
		Player:   &FileConfig{Filename: "hello.wav"},
		Recorder: &FileConfig{Filename: "rec.wav"},
	}
	eng, acct, rs := registered(t, WithPlayerConfig(cfg))
	cs, call := dial(t, rs, acct)
	call.State(engine.CallStateConfirmed, 200)
	call.Media(engine.MediaStatusActive)
	assert.Contains(t, eng.Commands(), "call-1/media-0.startTransmit recorder-1")

	eng.Reset()
	call.Media(engine.MediaStatusRemoteHold)
	assert.Equal(t, []string{"player-1.stopTransmit call-1/media-0"}, eng.Commands())
	assert.True(t, cs.Media().Recording())
	assert.False(t, cs.Media().Transmitting())

	eng.Reset()
	call.Media(engine.MediaStatusActive)
	assert.Equal(t, []string{"player-1.startTransmit call-1/media-0"}, eng.Commands(), "resume neither replays nor re-attaches the recorder")

	eng.Reset()
	call.State(engine.CallStateDisconnected, 200)
	assert.Equal(t, []string{
		"player-1.stopTransmit call-1/media-0",
		"call-1/media-0.stopTransmit recorder-1",
		"player-1.close",
		"recorder-1.close",
	}, eng.Commands())
}

func TestPerCallPlayerOverride(t *testing.T) {
	eng, acct, rs := registered(t, WithPlayerConfig(helloPlayer))

	override := PlayerConfig{Recorder: &FileConfig{Filename: "only-rec.wav"}}
	cs, err := rs.MakeCall(bob, MakeCallOptions{Player: &override, AudioDeviceID: 2, Param: "X-Test: 1"})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"engine.createRecorder only-rec.wav",
		"account-1.makeCall sip:bob@example.com",
	}, eng.Commands())
	assert.Nil(t, cs.Media().Player())
	assert.Equal(t, engine.CallOptions{Param: "X-Test: 1", AudioDeviceID: 2}, acct.LastCall().Options())

	assert.NoError(t, cs.PlaySong("x.wav"), "no player means no-op")
	assert.Len(t, eng.Commands(), 2)
}

func TestMakeCallEngineFailureReleasesMedia(t *testing.T) {
	eng, _, rs := registered(t, WithPlayerConfig(helloPlayer))
	eng.FailOn("account.makeCall", errors.New("no route"))

	cs, err := rs.MakeCall(bob, MakeCallOptions{})
	assert.Nil(t, cs)
	var cmdErr *EngineCommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "player-1.close", eng.Commands()[len(eng.Commands())-1])
}

func TestAnswerOnlyForIncomingEarly(t *testing.T) {
	eng, acct, rs := registered(t)

	out, _ := dial(t, rs, acct)
	assert.ErrorIs(t, out.Answer(0, ""), ErrInvalidState)

	var in *CallSession
	rs.OnEvent(func(ev AccountEvent) {
		if ev.Type == AccountEventIncomingCall {
			in = ev.Call
		}
	})
	call := acct.IncomingCall("sip:carol@example.com")
	require.NotNil(t, in)
	assert.Equal(t, engine.CallStateIncoming, in.State())
	assert.Nil(t, in.Connected())

	eng.Reset()
	require.NoError(t, in.Answer(180, "Ringing"))
	call.State(engine.CallStateEarly, 180)
	require.NoError(t, in.Answer(0, ""))
	assert.Equal(t, []string{"call-2.answer 180", "call-2.answer 200"}, eng.Commands())

	call.State(engine.CallStateConfirmed, 200)
	err := in.Answer(0, "")
	var stErr *StateTransitionError
	require.ErrorAs(t, err, &stErr)
	assert.Equal(t, "answer", stErr.Op)
}

func TestIncomingCallHangupFromCallee(t *testing.T) {
	dir := NewDirectory()
	_, acct, rs := registered(t, WithDirectory(dir))

	var in *CallSession
	rs.OnEvent(func(ev AccountEvent) { in = ev.Call })
	call := acct.IncomingCall("sip:carol@example.com")
	require.NotNil(t, in)

	_, ok := dir.Lookup(call.ID())
	assert.True(t, ok, "incoming call ids are known immediately")

	hangup, err := in.Hangup(486, "Busy Here")
	require.NoError(t, err)
	call.State(engine.CallStateDisconnected, 486)
	require.NoError(t, hangup.Wait(testContext(t)))

	out, _ := in.Outcome()
	assert.Equal(t, OutcomeSetupFailed, out.Kind)
	assert.Equal(t, 0, dir.Len())
}

func TestDTMFMessagesAndPlaybackAreForwarded(t *testing.T) {
	eng, acct, rs := registered(t, WithPlayerConfig(helloPlayer))
	cs, call := dial(t, rs, acct)
	events := recordCallEvents(cs)

	call.State(engine.CallStateConfirmed, 200)
	call.Media(engine.MediaStatusActive)
	call.DTMF("5")
	call.InstantMessage(bob, "hello")
	eng.Players()[0].Status(engine.PlaybackCompleted, 0)

	var dtmf, msg, playback *CallEvent
	for i := range *events {
		ev := &(*events)[i]
		switch ev.Type {
		case CallEventDTMF:
			dtmf = ev
		case CallEventInstantMessage:
			msg = ev
		case CallEventPlaybackStatus:
			playback = ev
		}
	}
	require.NotNil(t, dtmf)
	assert.Equal(t, "5", dtmf.Digit)
	require.NotNil(t, msg)
	assert.Equal(t, "hello", msg.Text)
	require.NotNil(t, playback)
	assert.Equal(t, engine.PlaybackStatus{Path: "hello.wav", Event: engine.PlaybackCompleted}, playback.Playback)
	assert.Equal(t, engine.CallStateConfirmed, cs.State(), "dtmf and messages do not change state")

	require.NoError(t, cs.DialDTMF("12#"))
	require.NoError(t, cs.PlaySong("next.wav"))
	assert.Contains(t, eng.Commands(), "call-1.dialDtmf 12#")
	assert.Contains(t, eng.Commands(), "player-1.play next.wav")
}
