package fsm

import "testing"

func TestDetectSafetyEmergency(t *testing.T) {
	t.Parallel()
	if !detectSafetyEmergency("I smell gas in the basement") {
		t.Error("expected a gas-smell utterance to be detected as an emergency")
	}
	if detectSafetyEmergency("everything is fine, thanks") {
		t.Error("expected a benign utterance not to be detected as an emergency")
	}
}

func TestDetectHighTicket_ChecksBothUtteranceAndProblemDescription(t *testing.T) {
	t.Parallel()
	if !detectHighTicket("we want a new HVAC system", "") {
		t.Error("expected the utterance to trigger high-ticket detection")
	}
	if !detectHighTicket("yes please", "full system replacement for the whole house") {
		t.Error("expected the accumulated problem description to trigger high-ticket detection")
	}
	if detectHighTicket("my faucet is dripping", "a leaky kitchen faucet") {
		t.Error("expected an ordinary repair not to be detected as high-ticket")
	}
}
