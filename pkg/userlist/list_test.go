package userlist

import (
	"testing"

	"github.com/avsconf/ccall/pkg/sigcodec"
)

func newTestList(t *testing.T) *List {
	t.Helper()
	l := New(Config{})
	l.SetSelf(RealIdentity{UserID: "self", ClientID: "c0"}, []byte("call-secret"))
	return l
}

func hashOf(l *List, userID string) string {
	return l.hashUserIDLocked(userID)
}

func TestReconcileSFTAddsAndRemoves(t *testing.T) {
	l := newTestList(t)
	aHash := hashOf(l, "alice")

	// alice appears unknown to the SFT first (hash-only, unapproved):
	// no add callback fires for her yet.
	res, err := l.ReconcileSFT([]sigcodec.MemberTuple{
		{UserIDHash: l.SelfHash().UserIDHash, SSRCAudio: 1},
		{UserIDHash: aHash, SSRCAudio: 2},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !res.MissingParts {
		t.Fatal("expected MissingParts for unknown hash")
	}
	if len(res.Added) != 1 || res.Added[0] != l.SelfHash().UserIDHash {
		t.Fatalf("Added = %v, want only self", res.Added)
	}
	if res.Keygenerator != l.SelfHash().UserIDHash {
		t.Fatalf("keygenerator = %s, want self", res.Keygenerator)
	}

	// Now the SE list approves alice; she should become eligible for
	// add/remove callbacks on the next SFT reconcile.
	if _, err := l.ReconcileSE([]SEClient{{UserID: "alice", ClientID: "c1", InSubconv: true}}, 5); err != nil {
		t.Fatalf("reconcile se: %v", err)
	}

	res, err = l.ReconcileSFT([]sigcodec.MemberTuple{
		{UserIDHash: l.SelfHash().UserIDHash, SSRCAudio: 1},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(res.Removed) != 1 || res.Removed[0] != aHash {
		t.Fatalf("Removed = %v, want [%s]", res.Removed, aHash)
	}
}

func TestReconcileSFTSSRCChangeForcesRejoin(t *testing.T) {
	l := newTestList(t)
	aHash := hashOf(l, "alice")
	if _, err := l.ReconcileSE([]SEClient{{UserID: "alice", ClientID: "c1", InSubconv: true}}, 1); err != nil {
		t.Fatalf("reconcile se: %v", err)
	}

	if _, err := l.ReconcileSFT([]sigcodec.MemberTuple{{UserIDHash: aHash, SSRCAudio: 10}}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	res, err := l.ReconcileSFT([]sigcodec.MemberTuple{{UserIDHash: aHash, SSRCAudio: 99}})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(res.Removed) != 1 || len(res.Added) != 1 {
		t.Fatalf("ssrc change should both remove and re-add: added=%v removed=%v", res.Added, res.Removed)
	}
}

func TestReconcileSEPromotesHashOnlyUser(t *testing.T) {
	l := newTestList(t)
	aHash := hashOf(l, "alice")
	if _, err := l.ReconcileSFT([]sigcodec.MemberTuple{{UserIDHash: aHash, SSRCAudio: 1}}); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	u, ok := l.Get(aHash)
	if !ok || u.Real != nil {
		t.Fatalf("expected hash-only user before SE reconcile, got %+v ok=%v", u, ok)
	}

	res, err := l.ReconcileSE([]SEClient{{UserID: "alice", ClientID: "c1", InSubconv: true}}, 3)
	if err != nil {
		t.Fatalf("reconcile se: %v", err)
	}
	if len(res.Promoted) != 1 || res.Promoted[0] != aHash {
		t.Fatalf("Promoted = %v, want [%s]", res.Promoted, aHash)
	}
	u, ok = l.Get(aHash)
	if !ok || u.Real == nil || u.Real.UserID != "alice" {
		t.Fatalf("user not promoted: %+v", u)
	}
	if u.FirstEpoch != 3 {
		t.Fatalf("FirstEpoch = %d, want 3", u.FirstEpoch)
	}
}

func TestReconcileSEDemotesRemovedClient(t *testing.T) {
	l := newTestList(t)
	if _, err := l.ReconcileSE([]SEClient{{UserID: "alice", ClientID: "c1", InSubconv: true}}, 1); err != nil {
		t.Fatalf("reconcile se: %v", err)
	}
	res, err := l.ReconcileSE(nil, 2)
	if err != nil {
		t.Fatalf("reconcile se: %v", err)
	}
	if len(res.Demoted) != 1 {
		t.Fatalf("Demoted = %v, want 1 entry", res.Demoted)
	}
	u, _ := l.Get(hashOf(l, "alice"))
	if u.SEApproved {
		t.Fatal("user should no longer be SEApproved")
	}
}

func TestKeyIndexBoundedBySelfEpoch(t *testing.T) {
	l := newTestList(t)
	if _, err := l.ReconcileSE([]SEClient{
		{UserID: "alice", ClientID: "c1", InSubconv: true},
		{UserID: "bob", ClientID: "c2", InSubconv: true},
	}, 1); err != nil {
		t.Fatalf("reconcile se: %v", err)
	}
	aHash, bHash := hashOf(l, "alice"), hashOf(l, "bob")
	if _, err := l.ReconcileSFT([]sigcodec.MemberTuple{
		{UserIDHash: aHash, SSRCAudio: 1},
		{UserIDHash: bHash, SSRCAudio: 2},
	}); err != nil {
		t.Fatalf("reconcile sft: %v", err)
	}

	l.SetLatestEpoch(aHash, 5)
	l.SetLatestEpoch(bHash, 3)

	if idx, ok := l.KeyIndex(10); !ok || idx != 3 {
		t.Fatalf("KeyIndex(10) = %d,%v want 3,true", idx, ok)
	}
	if idx, ok := l.KeyIndex(4); !ok || idx != 3 {
		t.Fatalf("KeyIndex(4) = %d,%v want 3,true", idx, ok)
	}
	if _, ok := l.KeyIndex(2); ok {
		t.Fatal("KeyIndex(2) should find no qualifying epoch below the ceiling")
	}
}

func TestMergeAudioLevelsMuteAndSmoothing(t *testing.T) {
	l := newTestList(t)
	if _, err := l.ReconcileSE([]SEClient{{UserID: "alice", ClientID: "c1", InSubconv: true}}, 1); err != nil {
		t.Fatalf("reconcile se: %v", err)
	}

	changed := l.MergeAudioLevels([]AudioLevel{{UserID: "alice", ClientID: "c1", Level: 100}})
	if len(changed) != 1 {
		t.Fatalf("expected active-speaker flip, got %v", changed)
	}
	u, _ := l.Get(hashOf(l, "alice"))
	if !u.ActiveAudio {
		t.Fatal("alice should be active")
	}

	l.users[hashOf(l, "alice")].Muted = true
	changed = l.MergeAudioLevels([]AudioLevel{{UserID: "alice", ClientID: "c1", Level: 100}})
	if len(changed) != 1 {
		t.Fatalf("muting should flip active flag back off, got %v", changed)
	}
	u, _ = l.Get(hashOf(l, "alice"))
	if u.ActiveAudio || u.audioLevel != 0 {
		t.Fatalf("muted user should report zero level and inactive, got %+v", u)
	}
}

func TestMembersOrderedByPosition(t *testing.T) {
	l := newTestList(t)
	aHash, bHash := hashOf(l, "alice"), hashOf(l, "bob")
	_, err := l.ReconcileSFT([]sigcodec.MemberTuple{
		{UserIDHash: bHash, SSRCAudio: 2},
		{UserIDHash: aHash, SSRCAudio: 1},
		{UserIDHash: l.SelfHash().UserIDHash, SSRCAudio: 9},
	})
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	members := l.Members()
	if len(members) != 3 {
		t.Fatalf("len(Members) = %d, want 3", len(members))
	}
	if members[0].Hash.UserIDHash != bHash || members[1].Hash.UserIDHash != aHash {
		t.Fatalf("members not ordered by position: %+v", members)
	}
}
