package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	auditdomain "esim-gateway/internal/audit/domain"
	"esim-gateway/internal/platform/apperr"
	"esim-gateway/internal/security"
	"esim-gateway/internal/sessioncache"
	userdomain "esim-gateway/internal/user/domain"
	userrepo "esim-gateway/internal/user/repository"
)

type memUserRepo struct {
	mu      sync.Mutex
	nextID  int64
	byEmail map[string]*userdomain.User
	err     error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{byEmail: make(map[string]*userdomain.User)}
}

func (r *memUserRepo) GetByEmail(ctx context.Context, email string) (*userdomain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	u, ok := r.byEmail[email]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

// Create mimics the users_email_key constraint: the first insert wins and later ones fail.
func (r *memUserRepo) Create(ctx context.Context, u *userdomain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	if _, ok := r.byEmail[u.Email]; ok {
		return userrepo.ErrEmailTaken
	}
	r.nextID++
	u.ID = r.nextID
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	cp := *u
	r.byEmail[u.Email] = &cp
	return nil
}

type auditEvent struct {
	userID, action string
}

type recordingAudit struct {
	mu     sync.Mutex
	events []auditEvent
}

func (a *recordingAudit) LogEvent(ctx context.Context, userID, action, resource, metadata string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, auditEvent{userID: userID, action: action})
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.events))
	for i, e := range a.events {
		out[i] = e.action
	}
	return out
}

type failingCache struct{ sessioncache.Cache }

var errCacheDown = errors.New("cache down")

func (failingCache) Set(context.Context, string, string, time.Duration) error { return errCacheDown }
func (failingCache) Get(context.Context, string) (string, bool, error) { return "", false, errCacheDown }
func (failingCache) Delete(context.Context, string) (bool, error) { return false, errCacheDown }

type fixture struct {
	svc    *AuthService
	users  *memUserRepo
	cache  *sessioncache.MemoryCache
	audit  *recordingAudit
	tokens *security.TokenProvider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tokens, err := security.NewTestTokenProvider()
	if err != nil {
		t.Fatalf("NewTestTokenProvider: %v", err)
	}
	f := &fixture{
		users:  newMemUserRepo(),
		cache:  sessioncache.NewMemoryCache(),
		audit:  &recordingAudit{},
		tokens: tokens,
	}
	f.svc = NewAuthService(f.users, f.cache, security.NewHasher(bcrypt.MinCost), tokens, f.audit, "KH")
	return f
}

func (f *fixture) register(t *testing.T, email, password string) *AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), email, password, "")
	if err != nil {
		t.Fatalf("Register(%s): %v", email, err)
	}
	return res
}

func wantKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("want %s error, got nil", kind)
	}
	if got := apperr.KindOf(err); got != kind {
		t.Fatalf("error kind = %s, want %s (err: %v)", got, kind, err)
	}
}

func TestLogin_StoresRefreshTokenUnderSubjectKey(t *testing.T) {
	f := newFixture(t)
	f.users.nextID = 6
	f.register(t, "seven@example.com", "password123")

	res, err := f.svc.Login(context.Background(), "seven@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if res.User == nil || res.User.ID != 7 || res.User.Email != "seven@example.com" {
		t.Fatalf("Login user = %+v, want id 7", res.User)
	}
	stored, ok, _ := f.cache.Get(context.Background(), "refresh_token:7")
	if !ok || stored != res.RefreshToken {
		t.Fatalf("cache refresh_token:7 = (%q, %v), want the issued refresh token", stored, ok)
	}
	sub, email, err := f.tokens.ValidateAccess(res.AccessToken)
	if err != nil || sub != "7" || email != "seven@example.com" {
		t.Fatalf("access token claims = (%q, %q, %v)", sub, email, err)
	}
}

func TestLoginThenRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@example.com", "password123")
	login, err := f.svc.Login(ctx, "a@example.com", "password123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	refreshed, err := f.svc.Refresh(ctx, login.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if refreshed.AccessToken == "" || refreshed.AccessToken == login.AccessToken {
		t.Fatal("Refresh must return a new, different access token")
	}
	if refreshed.RefreshToken != "" {
		t.Error("Refresh must not rotate the refresh token")
	}
	sub, email, err := f.tokens.ValidateAccess(refreshed.AccessToken)
	if err != nil || sub != "1" || email != "" {
		t.Fatalf("refreshed access claims = (%q, %q, %v)", sub, email, err)
	}

	// Still valid: the refresh token is reusable until logout or next login.
	if _, err := f.svc.Refresh(ctx, login.RefreshToken); err != nil {
		t.Fatalf("second Refresh: %v", err)
	}
}

func TestLogoutRevokesRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@example.com", "password123")
	login, _ := f.svc.Login(ctx, "a@example.com", "password123")

	if err := f.svc.Logout(ctx, "1"); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	_, err := f.svc.Refresh(ctx, login.RefreshToken)
	wantKind(t, err, apperr.KindInvalidToken)

	if err := f.svc.Logout(ctx, "1"); err != nil {
		t.Fatalf("second Logout should succeed: %v", err)
	}
}

func TestSecondLoginInvalidatesFirstRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@example.com", "password123")
	first, _ := f.svc.Login(ctx, "a@example.com", "password123")
	second, err := f.svc.Login(ctx, "a@example.com", "password123")
	if err != nil {
		t.Fatalf("second Login: %v", err)
	}
	if first.RefreshToken == second.RefreshToken {
		t.Fatal("two logins must yield distinct refresh tokens")
	}

	_, err = f.svc.Refresh(ctx, first.RefreshToken)
	wantKind(t, err, apperr.KindInvalidToken)
	if _, err := f.svc.Refresh(ctx, second.RefreshToken); err != nil {
		t.Fatalf("Refresh with current token: %v", err)
	}
}

func TestRegister_DuplicateEmailConflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@example.com", "password123")
	before, _ := f.users.GetByEmail(ctx, "a@example.com")

	_, err := f.svc.Register(ctx, " A@Example.com ", "another-password", "")
	wantKind(t, err, apperr.KindConflict)
	if msg, _ := apperr.Public(err); msg != "User already exists" {
		t.Errorf("message = %q", msg)
	}

	after, _ := f.users.GetByEmail(ctx, "a@example.com")
	if after.PasswordHash != before.PasswordHash || after.ID != before.ID {
		t.Fatal("existing user row must be unchanged")
	}
	if _, err := f.svc.Login(ctx, "a@example.com", "password123"); err != nil {
		t.Fatalf("original password must still work: %v", err)
	}
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, conflicts int
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Register(ctx, "race@example.com", "password123", "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case apperr.KindOf(err) == apperr.KindConflict:
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if ok != 1 || conflicts != 7 {
		t.Fatalf("ok=%d conflicts=%d, want 1 and 7", ok, conflicts)
	}
}

func TestRegisterThenLogin(t *testing.T) {
	f := newFixture(t)
	res := f.register(t, "  New@Example.com", "password123")
	if res.User == nil || res.User.Email != "new@example.com" {
		t.Fatalf("Register user = %+v, want normalised email", res.User)
	}
	if res.AccessToken != "" || res.RefreshToken != "" {
		t.Error("Register must not issue tokens")
	}
	if _, err := f.svc.Login(context.Background(), "new@example.com", "password123"); err != nil {
		t.Fatalf("Login after Register: %v", err)
	}
}

func TestRegister_Validation(t *testing.T) {
	tests := []struct {
		name, email, password, phone string
	}{
		{"blank email", "  ", "password123", ""},
		{"blank password", "a@example.com", "", ""},
		{"malformed email", "not-an-email", "password123", ""},
		{"unparseable phone", "a@example.com", "password123", "call me"},
		{"invalid phone", "a@example.com", "password123", "+1 000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Register(context.Background(), tt.email, tt.password, tt.phone)
			wantKind(t, err, apperr.KindInvalidInput)
		})
	}
}

func TestRegister_PhoneNormalisedToE164(t *testing.T) {
	tests := []struct {
		region, phone, want string
	}{
		{"KH", "+1 650-253-0000", "+16502530000"},
		{"US", "(650) 253-0000", "+16502530000"},
		{"KH", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.region+"/"+tt.phone, func(t *testing.T) {
			f := newFixture(t)
			f.svc.phoneRegion = tt.region
			res, err := f.svc.Register(context.Background(), "p@example.com", "password123", tt.phone)
			if err != nil {
				t.Fatalf("Register: %v", err)
			}
			if res.User.Phone != tt.want {
				t.Errorf("phone = %q, want %q", res.User.Phone, tt.want)
			}
		})
	}
}

func TestLogin_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@example.com", "password123")

	_, err := f.svc.Login(ctx, "", "password123")
	wantKind(t, err, apperr.KindInvalidInput)
	if msg, _ := apperr.Public(err); msg != "Email and password are required" {
		t.Errorf("message = %q", msg)
	}
	_, err = f.svc.Login(ctx, "a@example.com", "")
	wantKind(t, err, apperr.KindInvalidInput)

	_, err = f.svc.Login(ctx, "a@example.com", "wrong-password")
	wantKind(t, err, apperr.KindInvalidCredentials)
	_, err = f.svc.Login(ctx, "nobody@example.com", "password123")
	wantKind(t, err, apperr.KindInvalidCredentials)

	if _, ok, _ := f.cache.Get(ctx, "refresh_token:1"); ok {
		t.Error("failed logins must not create a session")
	}
}

func TestRefresh_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Refresh(ctx, "  ")
	wantKind(t, err, apperr.KindInvalidInput)

	_, err = f.svc.Refresh(ctx, "garbage")
	wantKind(t, err, apperr.KindInvalidToken)

	// Well-formed token for a subject that never logged in.
	orphan, _, _ := f.tokens.IssueRefresh("99")
	_, err = f.svc.Refresh(ctx, orphan)
	wantKind(t, err, apperr.KindInvalidToken)

	// Access tokens are not refresh tokens.
	f.register(t, "a@example.com", "password123")
	login, _ := f.svc.Login(ctx, "a@example.com", "password123")
	_, err = f.svc.Refresh(ctx, login.AccessToken)
	wantKind(t, err, apperr.KindInvalidToken)
}

func TestLogout_RequiresSubject(t *testing.T) {
	f := newFixture(t)
	wantKind(t, f.svc.Logout(context.Background(), ""), apperr.KindUnauthorized)
}

func TestAdapterFailuresAreInternal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@example.com", "password123")
	login, _ := f.svc.Login(ctx, "a@example.com", "password123")

	broken := NewAuthService(f.users, failingCache{}, security.NewHasher(bcrypt.MinCost), f.tokens, nil, "KH")
	_, err := broken.Login(ctx, "a@example.com", "password123")
	wantKind(t, err, apperr.KindInternal)
	_, err = broken.Refresh(ctx, login.RefreshToken)
	wantKind(t, err, apperr.KindInternal)
	wantKind(t, broken.Logout(ctx, "1"), apperr.KindInternal)

	f.users.err = errors.New("connection refused")
	_, err = f.svc.Login(ctx, "a@example.com", "password123")
	wantKind(t, err, apperr.KindInternal)
	_, err = f.svc.Register(ctx, "b@example.com", "password123", "")
	wantKind(t, err, apperr.KindInternal)
	if msg, _ := apperr.Public(err); strings.Contains(msg, "connection refused") {
		t.Error("internal cause must not leak into the public message")
	}
}

func TestAuditEvents(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "a@example.com", "password123")
	_, _ = f.svc.Login(ctx, "a@example.com", "bad")
	_, _ = f.svc.Login(ctx, "a@example.com", "password123")
	_ = f.svc.Logout(ctx, "1")

	want := []string{
		auditdomain.ActionRegister,
		auditdomain.ActionLoginFailure,
		auditdomain.ActionLoginSuccess,
		auditdomain.ActionLogout,
	}
	got := f.audit.actions()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("audit actions = %v, want %v", got, want)
	}
}
