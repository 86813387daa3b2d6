package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"commonwealth/internal/domain"
	"commonwealth/internal/magic"
	"commonwealth/internal/oauth"
	"commonwealth/internal/repository"
)

type memState struct {
	nextID      int64
	users       map[int64]domain.User
	profiles    map[int64]domain.Profile
	addresses   map[int64]domain.Address
	tokens      map[int64]domain.SsoToken
	outbox      []domain.OutboxEvent
	communities map[string]domain.Community
	threads     map[int64]int64
}

func newMemState() *memState {
	return &memState{
		nextID:      100,
		users:       make(map[int64]domain.User),
		profiles:    make(map[int64]domain.Profile),
		addresses:   make(map[int64]domain.Address),
		tokens:      make(map[int64]domain.SsoToken),
		communities: make(map[string]domain.Community),
		threads:     make(map[int64]int64),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		nextID:      s.nextID,
		users:       make(map[int64]domain.User, len(s.users)),
		profiles:    make(map[int64]domain.Profile, len(s.profiles)),
		addresses:   make(map[int64]domain.Address, len(s.addresses)),
		tokens:      make(map[int64]domain.SsoToken, len(s.tokens)),
		outbox:      append([]domain.OutboxEvent(nil), s.outbox...),
		communities: make(map[string]domain.Community, len(s.communities)),
		threads:     make(map[int64]int64, len(s.threads)),
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	for k, v := range s.addresses {
		c.addresses[k] = v
	}
	for k, v := range s.tokens {
		c.tokens[k] = v
	}
	for k, v := range s.communities {
		c.communities[k] = v
	}
	for k, v := range s.threads {
		c.threads[k] = v
	}
	return c
}

func (s *memState) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memState) sortedAddresses() []domain.Address {
	out := make([]domain.Address, 0, len(s.addresses))
	for _, a := range s.addresses {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// memDB implementa repository.Database; un error dentro de WithinTx restaura el snapshot previo.
type memDB struct {
	mu    sync.Mutex
	state *memState
}

func newMemDB() *memDB {
	return &memDB{state: newMemState()}
}

func (d *memDB) Store() repository.Store {
	return &memStore{db: d}
}

func (d *memDB) WithinTx(ctx context.Context, fn func(ctx context.Context, store repository.Store) error) error {
	d.mu.Lock()
	snapshot := d.state.clone()
	d.mu.Unlock()

	if err := fn(ctx, &memStore{db: d}); err != nil {
		d.mu.Lock()
		d.state = snapshot
		d.mu.Unlock()
		return err
	}
	return nil
}

func (d *memDB) addUser(u domain.User) domain.User {
	if u.ID == 0 {
		u.ID = d.state.id()
	}
	d.state.users[u.ID] = u
	return u
}

func (d *memDB) addAddress(a domain.Address) domain.Address {
	if a.ID == 0 {
		a.ID = d.state.id()
	}
	if a.Role == "" {
		a.Role = domain.RoleMember
	}
	d.state.addresses[a.ID] = a
	return a
}

func (d *memDB) addCommunity(c domain.Community) {
	d.state.communities[c.ID] = c
}

func (d *memDB) outboxNames() []string {
	names := make([]string, 0, len(d.state.outbox))
	for _, ev := range d.state.outbox {
		names = append(names, ev.Name)
	}
	return names
}

func (d *memDB) addressesOf(userID int64) []domain.Address {
	var out []domain.Address
	for _, a := range d.state.sortedAddresses() {
		if a.OwnedBy(userID) {
			out = append(out, a)
		}
	}
	return out
}

type memStore struct {
	db *memDB
}

func (s *memStore) st() *memState { return s.db.state }

func (s *memStore) Users() repository.UserRepository            { return memUsers{s} }
func (s *memStore) Profiles() repository.ProfileRepository      { return memProfiles{s} }
func (s *memStore) Addresses() repository.AddressRepository     { return memAddresses{s} }
func (s *memStore) SsoTokens() repository.SsoTokenRepository    { return memTokens{s} }
func (s *memStore) Outbox() repository.OutboxRepository         { return memOutbox{s} }
func (s *memStore) Communities() repository.CommunityRepository { return memCommunities{s} }

type memUsers struct{ s *memStore }

func (m memUsers) Create(_ context.Context, u domain.User) (domain.User, error) {
	st := m.s.st()
	u.ID = st.id()
	u.UpdatedAt = u.CreatedAt
	st.users[u.ID] = u
	return u, nil
}

func (m memUsers) GetByID(_ context.Context, id int64) (domain.User, error) {
	u, ok := m.s.st().users[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (m memUsers) ownerOf(match func(domain.Address) bool) (*domain.User, error) {
	st := m.s.st()
	ids := map[int64]struct{}{}
	for _, a := range st.addresses {
		if a.UserID != nil && match(a) {
			ids[*a.UserID] = struct{}{}
		}
	}
	if len(ids) > 1 {
		return nil, repository.ErrMultipleOwners
	}
	for id := range ids {
		u := st.users[id]
		return &u, nil
	}
	return nil, nil
}

func (m memUsers) FindByAddress(_ context.Context, address string) (*domain.User, error) {
	return m.ownerOf(func(a domain.Address) bool { return a.Address == address })
}

func (m memUsers) FindByHex(_ context.Context, hex string) (*domain.User, error) {
	return m.ownerOf(func(a domain.Address) bool { return a.Hex != nil && *a.Hex == hex })
}

func (m memUsers) FindByMagicAddress(_ context.Context, address string) (*domain.User, error) {
	return m.ownerOf(func(a domain.Address) bool {
		return a.WalletID == domain.WalletMagic && a.Address == address && a.Verified != nil
	})
}

func (m memUsers) FindByEmailWithGhosts(_ context.Context, email string) (*domain.User, []domain.Address, error) {
	st := m.s.st()
	var found []domain.User
	for _, u := range st.users {
		if u.Email == nil || *u.Email != email {
			continue
		}
		for _, a := range st.addresses {
			if a.OwnedBy(u.ID) && a.GhostAddress {
				found = append(found, u)
				break
			}
		}
	}
	if len(found) > 1 {
		return nil, nil, repository.ErrMultipleOwners
	}
	if len(found) == 0 {
		return nil, nil, nil
	}
	var ghosts []domain.Address
	for _, a := range st.sortedAddresses() {
		if a.OwnedBy(found[0].ID) && a.GhostAddress {
			ghosts = append(ghosts, a)
		}
	}
	return &found[0], ghosts, nil
}

func (m memUsers) UpdateTier(_ context.Context, id int64, tier domain.Tier) error {
	st := m.s.st()
	u, ok := st.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	u.Tier = tier
	st.users[id] = u
	return nil
}

type memProfiles struct{ s *memStore }

func (m memProfiles) Create(_ context.Context, p domain.Profile) error {
	m.s.st().profiles[p.UserID] = p
	return nil
}

func (m memProfiles) GetByUserID(_ context.Context, userID int64) (domain.Profile, error) {
	p, ok := m.s.st().profiles[userID]
	if !ok {
		return domain.Profile{}, pgx.ErrNoRows
	}
	return p, nil
}

type memAddresses struct{ s *memStore }

func (m memAddresses) Create(_ context.Context, a domain.Address) (domain.Address, error) {
	st := m.s.st()
	for _, existing := range st.addresses {
		if existing.CommunityID == a.CommunityID && existing.Address == a.Address {
			return domain.Address{}, fmt.Errorf("%w: %s/%s", repository.ErrDuplicateAddress, a.CommunityID, a.Address)
		}
	}
	a.ID = st.id()
	st.addresses[a.ID] = a
	return a, nil
}

func (m memAddresses) Update(_ context.Context, a domain.Address) error {
	st := m.s.st()
	if _, ok := st.addresses[a.ID]; !ok {
		return pgx.ErrNoRows
	}
	st.addresses[a.ID] = a
	return nil
}

func (m memAddresses) ListByCommunityAndAddress(_ context.Context, communityID, address string) ([]domain.Address, error) {
	var out []domain.Address
	for _, a := range m.s.st().sortedAddresses() {
		if a.CommunityID == communityID && a.Address == address {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m memAddresses) ExistsByVerificationToken(_ context.Context, token string) (bool, error) {
	for _, a := range m.s.st().addresses {
		if a.VerificationToken == token {
			return true, nil
		}
	}
	return false, nil
}

func (m memAddresses) reassign(match func(domain.Address) bool, userID int64) int64 {
	st := m.s.st()
	var n int64
	for id, a := range st.addresses {
		if match(a) {
			uid := userID
			a.UserID = &uid
			st.addresses[id] = a
			n++
		}
	}
	return n
}

func (m memAddresses) ReassignByAddress(_ context.Context, address string, userID int64) (int64, error) {
	return m.reassign(func(a domain.Address) bool { return a.Address == address }, userID), nil
}

func (m memAddresses) ReassignByHex(_ context.Context, hex string, userID int64) (int64, error) {
	return m.reassign(func(a domain.Address) bool { return a.Hex != nil && *a.Hex == hex }, userID), nil
}

func (m memAddresses) ReassignWallet(_ context.Context, fromUserID, toUserID int64, wallet domain.WalletID, token string) ([]domain.Address, error) {
	st := m.s.st()
	var moved []domain.Address
	for _, a := range st.sortedAddresses() {
		if a.OwnedBy(fromUserID) && a.WalletID == wallet {
			uid := toUserID
			a.UserID = &uid
			a.VerificationToken = token
			st.addresses[a.ID] = a
			moved = append(moved, a)
		}
	}
	return moved, nil
}

func (m memAddresses) UpdateOAuth(_ context.Context, address string, userID int64, info domain.OAuthInfo) error {
	st := m.s.st()
	for id, a := range st.addresses {
		if a.Address == address && a.OwnedBy(userID) {
			info.Apply(&a)
			st.addresses[id] = a
		}
	}
	return nil
}

func (m memAddresses) HasOtherWallet(_ context.Context, userID int64, wallet domain.WalletID, excludeID int64) (bool, error) {
	for _, a := range m.s.st().addresses {
		if a.OwnedBy(userID) && a.WalletID == wallet && a.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m memAddresses) HasOtherSsoProvider(_ context.Context, userID int64, provider domain.SsoSource, excludeID int64) (bool, error) {
	for _, a := range m.s.st().addresses {
		if a.OwnedBy(userID) && a.OAuthProvider != nil && *a.OAuthProvider == provider && a.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m memAddresses) CountByAddress(_ context.Context, address string) (int64, error) {
	var n int64
	for _, a := range m.s.st().addresses {
		if a.Address == address {
			n++
		}
	}
	return n, nil
}

func (m memAddresses) ReplaceGhost(_ context.Context, ghostID, replacementID int64) error {
	st := m.s.st()
	if _, ok := st.addresses[ghostID]; !ok {
		return pgx.ErrNoRows
	}
	for thread, addr := range st.threads {
		if addr == ghostID {
			st.threads[thread] = replacementID
		}
	}
	for id, t := range st.tokens {
		if t.AddressID == ghostID {
			delete(st.tokens, id)
		}
	}
	delete(st.addresses, ghostID)
	return nil
}

type memTokens struct{ s *memStore }

func (m memTokens) Create(_ context.Context, t domain.SsoToken) (domain.SsoToken, error) {
	st := m.s.st()
	t.ID = st.id()
	t.UpdatedAt = t.CreatedAt
	st.tokens[t.ID] = t
	return t, nil
}

func (m memTokens) FindByIssuerAndAddress(_ context.Context, issuer, address string) (*domain.SsoToken, *domain.Address, error) {
	st := m.s.st()
	for _, t := range st.tokens {
		a, ok := st.addresses[t.AddressID]
		if t.Issuer == issuer && ok && a.Address == address {
			return &t, &a, nil
		}
	}
	return nil, nil, nil
}

func (m memTokens) UpdateIssuedAt(_ context.Context, id int64, issuedAt int64, updatedAt time.Time) error {
	st := m.s.st()
	t, ok := st.tokens[id]
	if !ok {
		return pgx.ErrNoRows
	}
	t.IssuedAt = issuedAt
	t.UpdatedAt = updatedAt
	st.tokens[id] = t
	return nil
}

type memOutbox struct{ s *memStore }

func (m memOutbox) Append(_ context.Context, events ...domain.OutboxEvent) error {
	st := m.s.st()
	for _, ev := range events {
		ev.ID = st.id()
		st.outbox = append(st.outbox, ev)
	}
	return nil
}

func (m memOutbox) ClaimBatch(_ context.Context, limit int) ([]domain.OutboxEvent, error) {
	var out []domain.OutboxEvent
	for _, ev := range m.s.st().outbox {
		if !ev.Relayed && len(out) < limit {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (m memOutbox) MarkRelayed(_ context.Context, ids []int64) error {
	st := m.s.st()
	set := map[int64]struct{}{}
	for _, id := range ids {
		set[id] = struct{}{}
	}
	for i := range st.outbox {
		if _, ok := set[st.outbox[i].ID]; ok {
			st.outbox[i].Relayed = true
		}
	}
	return nil
}

type memCommunities struct{ s *memStore }

func (m memCommunities) GetByID(_ context.Context, id string) (domain.Community, error) {
	c, ok := m.s.st().communities[id]
	if !ok {
		return domain.Community{}, pgx.ErrNoRows
	}
	return c, nil
}

type mockMetadataClient struct {
	metadata magic.UserMetadata
	err      error
	lastType magic.WalletType
}

func (m *mockMetadataClient) UserMetadata(_ context.Context, _ string, walletType magic.WalletType) (magic.UserMetadata, error) {
	m.lastType = walletType
	return m.metadata, m.err
}

type mockVerifier struct {
	info  oauth.VerifiedUserInfo
	err   error
	calls int
}

func (m *mockVerifier) Verify(_ context.Context, req oauth.Request) (oauth.VerifiedUserInfo, error) {
	m.calls++
	if m.err != nil {
		return oauth.VerifiedUserInfo{}, m.err
	}
	info := m.info
	info.Provider = req.Source
	return info, nil
}

type mockBalances struct {
	wei    decimal.Decimal
	err    error
	calls  int
	chains []int64
}

func (m *mockBalances) NativeBalance(_ context.Context, chainID int64, _ string) (decimal.Decimal, error) {
	m.calls++
	m.chains = append(m.chains, chainID)
	return m.wei, m.err
}

func ptr[T any](v T) *T { return &v }
