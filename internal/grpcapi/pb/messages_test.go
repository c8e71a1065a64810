package pb

import "testing"

func TestInfoResponseRoundTrip(t *testing.T) {
	want := &InfoResponse{Height: 803211, BlockHash: []byte{1, 2, 3, 4}}
	data, err := want.MarshalWire()
	if err != nil {
		t.Fatal(err)
	}

	got := &InfoResponse{}
	if err := got.UnmarshalWire(data); err != nil {
		t.Fatal(err)
	}
	if got.Height != want.Height {
		t.Fatalf("height: got %d want %d", got.Height, want.Height)
	}
	if string(got.BlockHash) != string(want.BlockHash) {
		t.Fatalf("block hash: got %x want %x", got.BlockHash, want.BlockHash)
	}
}

func TestNotificationRoundTrip(t *testing.T) {
	want := &Notification{
		Kind:           NotificationKindNewBlockReorg,
		CurrentTop:     100,
		CurrentTopHash: []byte{9, 9, 9},
		PrevTop:        90,
		BranchPoint:    80,
		UpdateID:       7,
	}
	data, err := want.MarshalWire()
	if err != nil {
		t.Fatal(err)
	}

	got := &Notification{}
	if err := got.UnmarshalWire(data); err != nil {
		t.Fatal(err)
	}

	if got.Kind != want.Kind || got.CurrentTop != want.CurrentTop ||
		got.PrevTop != want.PrevTop || got.BranchPoint != want.BranchPoint ||
		got.UpdateID != want.UpdateID {
		t.Fatalf("round trip mismatch: got %+v want %+v", got, want)
	}
	if string(got.CurrentTopHash) != string(want.CurrentTopHash) {
		t.Fatalf("hash: got %x want %x", got.CurrentTopHash, want.CurrentTopHash)
	}
}

func TestEmptyRoundTrip(t *testing.T) {
	data, err := (&Empty{}).MarshalWire()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Fatalf("expected zero bytes for Empty, got %d", len(data))
	}
	if err := (&Empty{}).UnmarshalWire(data); err != nil {
		t.Fatal(err)
	}
}

func TestZeroValueFieldsAreOmitted(t *testing.T) {
	data, err := (&SubscribeRequest{}).MarshalWire()
	if err != nil {
		t.Fatal(err)
	}
	if len(data) != 0 {
		t.Fatalf("expected zero-value string field to be omitted, got %d bytes", len(data))
	}
}
