package userlist

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/avsconf/ccall/pkg/icall"
	"github.com/avsconf/ccall/pkg/sigcodec"
	"github.com/pion/logging"
)

// audioActiveFloor is the smoothed audio level above which a member is
// considered an active speaker.
const audioActiveFloor = 10

// Config configures a List.
type Config struct {
	LoggerFactory logging.LoggerFactory
}

// List is the reconciled roster for one call.
type List struct {
	mu sync.Mutex

	log logging.LeveledLogger

	secret   []byte
	selfReal RealIdentity
	selfHash HashIdentity
	selfSet  bool

	users map[string]*User // keyed by HashIdentity.UserIDHash

	keygenHash string
}

// New creates an empty List.
func New(cfg Config) *List {
	factory := cfg.LoggerFactory
	if factory == nil {
		factory = logging.NewDefaultLoggerFactory()
	}
	return &List{
		log:   factory.NewLogger("userlist"),
		users: make(map[string]*User),
	}
}

// SetSelf records the local user's real identity and the keyed hash
// used to derive HashIdentity for every roster entry, including the
// local one. Must be called before Reconcile*.
func (l *List) SetSelf(real RealIdentity, secret []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.secret = append([]byte(nil), secret...)
	l.selfReal = real
	l.selfHash = HashIdentity{UserIDHash: l.hashUserIDLocked(real.UserID), ClientIDHash: fixedClientIDHash}
	l.selfSet = true

	if _, ok := l.users[l.selfHash.UserIDHash]; !ok {
		l.users[l.selfHash.UserIDHash] = &User{
			Real:       &real,
			Hash:       l.selfHash,
			SEApproved: true,
		}
	}
}

// SetSecret updates the keyed-hash secret used for future SE list
// lookups, without touching already-derived hash identities (a secret
// change mid-call would otherwise orphan every existing roster entry).
func (l *List) SetSecret(secret []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.secret = append([]byte(nil), secret...)
}

func (l *List) hashUserIDLocked(userID string) string {
	sum := hmacSHA256(l.secret, []byte(userID))
	return hex.EncodeToString(sum)
}

// hmacSHA256 keys a SHA-256 hash of a real user id with the call's
// per-session secret, so wire traffic cannot be correlated by an
// observer that lacks the secret.
func hmacSHA256(key, message []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(message)
	return h.Sum(nil)
}

// SFTResult reports what changed during a ReconcileSFT call.
type SFTResult struct {
	// Added and Removed list the hash ids of approved members (self or
	// se_approved) whose in-call membership changed this round.
	Added   []string
	Removed []string

	// SelfChanged is true when the local member's own SSRC pair or
	// roster position changed.
	SelfChanged bool

	// MissingParts is true when the SFT list contained a member this
	// list had no prior record of: a hash-only provisional entry.
	MissingParts bool

	// KeygeneratorChanged is true when the elected keygenerator hash
	// differs from the previous round.
	KeygeneratorChanged bool
	Keygenerator        string
}

// ReconcileSFT folds a CONF_PART member list into the roster: it
// tracks incall transitions, promotes or creates hash-only entries,
// applies muted-state updates, elects the keygenerator (the first
// approved member in SFT order), and positions members for get_members.
func (l *List) ReconcileSFT(parts []sigcodec.MemberTuple) (SFTResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.selfSet {
		return SFTResult{}, ErrNoSelf
	}

	for _, u := range l.users {
		u.InCallPrev = u.InCallNow
		u.InCallNow = false
	}

	var res SFTResult
	keygenFound := false

	for i, m := range parts {
		isSelf := m.UserIDHash == l.selfHash.UserIDHash
		u, ok := l.users[m.UserIDHash]
		if !ok {
			u = &User{Hash: HashIdentity{UserIDHash: m.UserIDHash, ClientIDHash: fixedClientIDHash}}
			l.users[m.UserIDHash] = u
			if !isSelf {
				res.MissingParts = true
			}
		} else if u.InCallPrev && (u.SSRCAudio != 0 || u.SSRCVideo != 0) &&
			(u.SSRCAudio != m.SSRCAudio || u.SSRCVideo != m.SSRCVideo) {
			// SSRCs changed while the member was already in-call: treat as
			// a departure immediately followed by a re-join, so downstream
			// media state (decoders, keys) gets rebuilt rather than patched.
			u.InCallPrev = false
			if u.isApproved(isSelf) {
				res.Removed = append(res.Removed, m.UserIDHash)
			}
		}

		if m.Muted != nil {
			u.Muted = *m.Muted
		}
		if isSelf && (u.SSRCAudio != m.SSRCAudio || u.SSRCVideo != m.SSRCVideo || u.Position != i) {
			res.SelfChanged = true
		}
		u.SSRCAudio = m.SSRCAudio
		u.SSRCVideo = m.SSRCVideo
		u.Position = i
		u.InCallNow = true

		if !keygenFound && u.isApproved(isSelf) {
			res.Keygenerator = u.Hash.UserIDHash
			keygenFound = true
		}
	}

	for hash, u := range l.users {
		switch {
		case u.InCallNow && !u.InCallPrev:
			u.NeedsKey = true
			if u.isApproved(hash == l.selfHash.UserIDHash) {
				res.Added = append(res.Added, hash)
			}
		case !u.InCallNow && u.InCallPrev:
			u.SSRCAudio = 0
			u.SSRCVideo = 0
			u.VState = icall.VideoStateStopped
			u.ActiveAudio = false
			if u.isApproved(hash == l.selfHash.UserIDHash) {
				res.Removed = append(res.Removed, hash)
			}
		}
	}

	if keygenFound && res.Keygenerator != l.keygenHash {
		l.keygenHash = res.Keygenerator
		res.KeygeneratorChanged = true
	} else if !keygenFound && l.keygenHash != "" {
		l.keygenHash = ""
		res.KeygeneratorChanged = true
	} else {
		res.Keygenerator = l.keygenHash
	}

	sort.Strings(res.Added)
	sort.Strings(res.Removed)
	return res, nil
}

// SEClient is one messaging-backend client entry (the "SE list"): a
// real user/client pair plus its sub-conversation membership.
type SEClient struct {
	UserID    string
	ClientID  string
	InSubconv bool
}

// SEResult reports what changed during a ReconcileSE call.
type SEResult struct {
	// Promoted lists hash ids that gained a real identity this round.
	Promoted []string
	// Demoted lists hash ids that lost se_approved status because they
	// no longer appear in the client list.
	Demoted []string
}

// ReconcileSE folds the messaging backend's authorized client list
// into the roster at the given epoch: it promotes hash-only entries to
// real identities, tracks each member's first_epoch across
// sub-conversation transitions, and demotes members no longer listed.
func (l *List) ReconcileSE(clients []SEClient, epoch uint32) (SEResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.selfSet {
		return SEResult{}, ErrNoSelf
	}

	var res SEResult
	seen := make(map[string]bool, len(clients))

	for _, c := range clients {
		hash := l.hashUserIDLocked(c.UserID)
		seen[hash] = true
		real := RealIdentity{UserID: c.UserID, ClientID: c.ClientID}

		u, ok := l.users[hash]
		if !ok {
			u = &User{Hash: HashIdentity{UserIDHash: hash, ClientIDHash: fixedClientIDHash}}
			l.users[hash] = u
		}

		promoted := u.Real == nil
		u.Real = &real
		u.SEApproved = true
		if !u.InSubconv && c.InSubconv {
			u.FirstEpoch = epoch
		} else if u.InSubconv && !c.InSubconv {
			u.FirstEpoch = 0
		}
		u.InSubconv = c.InSubconv

		if promoted {
			res.Promoted = append(res.Promoted, hash)
		}
	}

	for hash, u := range l.users {
		if hash == l.selfHash.UserIDHash {
			continue
		}
		if u.SEApproved && !seen[hash] {
			u.SEApproved = false
			u.InSubconv = false
			res.Demoted = append(res.Demoted, hash)
		}
	}

	sort.Strings(res.Promoted)
	sort.Strings(res.Demoted)
	return res, nil
}

// SetLatestEpoch records the latest MLS epoch reported for a member,
// used by KeyIndex.
func (l *List) SetLatestEpoch(hashUserID string, epoch uint32) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.users[hashUserID]; ok {
		u.LatestEpoch = epoch
	}
}

// SetVState records a member's video state, as reported through props sync.
func (l *List) SetVState(hashUserID string, state icall.VideoState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.users[hashUserID]; ok {
		u.VState = state
	}
}

// SetMuted records a member's muted flag, as reported through props sync.
func (l *List) SetMuted(hashUserID string, muted bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.users[hashUserID]; ok {
		u.Muted = muted
	}
}

// SetNeedsKey records whether a member still needs a fresh key sent,
// e.g. a user promoted from hash-only to a real identity while already
// in-call.
func (l *List) SetNeedsKey(hashUserID string, needsKey bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if u, ok := l.users[hashUserID]; ok {
		u.NeedsKey = needsKey
	}
}

// KeyIndex selects the MLS key index to install: the lowest non-zero
// latest_epoch among members that are simultaneously approved,
// in-subconv and in-call, bounded above by selfEpoch. Returns false
// when no qualifying member has reported an epoch yet.
func (l *List) KeyIndex(selfEpoch uint32) (uint32, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var best uint32
	found := false
	for _, u := range l.users {
		if !u.SEApproved || !u.InSubconv || !u.InCallNow {
			continue
		}
		if u.LatestEpoch == 0 || u.LatestEpoch > selfEpoch {
			continue
		}
		if !found || u.LatestEpoch < best {
			best = u.LatestEpoch
			found = true
		}
	}
	return best, found
}

// AudioLevel is one member's raw audio-level sample, keyed by real
// identity (audio-level reports arrive keyed off the conversation's
// real user/client ids, not hash identities).
type AudioLevel struct {
	UserID   string
	ClientID string
	Level    int
}

// MergeAudioLevels applies a batch of audio-level samples: muted
// members are forced to level zero, levels are smoothed with a 0.1
// decay factor, and the set of members whose active-speaker bit
// flipped is returned for the audio_level callback.
func (l *List) MergeAudioLevels(levels []AudioLevel) []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var changed []string
	for _, al := range levels {
		u := l.findByRealLocked(al.UserID, al.ClientID)
		if u == nil {
			continue
		}

		level := al.Level
		if u.Muted {
			level = 0
		}

		if level > u.audioLevelSmoothed {
			u.audioLevelSmoothed = level
		} else {
			u.audioLevelSmoothed = int(float64(u.audioLevelSmoothed)*0.9 + float64(level)*0.1)
		}
		u.audioLevel = level

		active := u.audioLevelSmoothed > audioActiveFloor && !u.Muted
		if active != u.ActiveAudio {
			u.ActiveAudio = active
			changed = append(changed, u.Hash.UserIDHash)
		}
	}
	sort.Strings(changed)
	return changed
}

func (l *List) findByRealLocked(userID, clientID string) *User {
	for _, u := range l.users {
		if u.Real != nil && u.Real.UserID == userID && u.Real.ClientID == clientID {
			return u
		}
	}
	return nil
}

// Get returns a copy of the roster entry for hashUserID.
func (l *List) Get(hashUserID string) (User, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	u, ok := l.users[hashUserID]
	if !ok {
		return User{}, false
	}
	return *u, true
}

// Keygenerator returns the currently elected keygenerator's hash id,
// if any.
func (l *List) Keygenerator() (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.keygenHash, l.keygenHash != ""
}

// IsSelfKeygenerator reports whether the local member is the elected
// keygenerator.
func (l *List) IsSelfKeygenerator() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selfSet && l.keygenHash == l.selfHash.UserIDHash
}

// Members returns every in-call member, ordered by SFT position, for
// get_members.
func (l *List) Members() []User {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]User, 0, len(l.users))
	for _, u := range l.users {
		if u.InCallNow {
			out = append(out, *u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// SelfHash returns the local member's derived hash identity.
func (l *List) SelfHash() HashIdentity {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.selfHash
}

// Reset discards the roster, keeping the self identity and secret.
func (l *List) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	self := l.users[l.selfHash.UserIDHash]
	l.users = make(map[string]*User)
	if self != nil {
		reset := *self
		reset.InCallNow = false
		reset.InCallPrev = false
		l.users[l.selfHash.UserIDHash] = &reset
	}
	l.keygenHash = ""
}
