package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/feedreader/internal/model"
)

// UserRateLimiter は外部への取得を伴うエンドポイントのユーザーごとの実行頻度を制限する。
type UserRateLimiter struct {
	limit rate.Limit
	burst int
	ttl   time.Duration

	mu            sync.Mutex
	limiters      map[string]*userLimiter
	lastSweep     time.Time
	sweepInterval time.Duration
	now           func() time.Time
}

// maxSweepInterval は期限切れエントリを掃除する間隔の上限。
const maxSweepInterval = time.Minute

// userLimiter はユーザーごとのリミッターと最終アクセス時刻。
type userLimiter struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// NewUserRateLimiter はperMinute回/分、バーストburstのリミッターを生成する。
// ttlより長くアクセスのないユーザーのリミッターは破棄する。
func NewUserRateLimiter(perMinute float64, burst int, ttl time.Duration) *UserRateLimiter {
	return &UserRateLimiter{
		limit:         rate.Limit(perMinute / 60),
		burst:         burst,
		ttl:           ttl,
		limiters:      make(map[string]*userLimiter),
		sweepInterval: min(ttl, maxSweepInterval),
		now:           time.Now,
	}
}

// Middleware はリクエストを制限するミドルウェアを返す。SessionMiddlewareの後に配置する。
func (l *UserRateLimiter) Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteAPIError(w, model.NewUnauthorizedError())
				return
			}
			if !l.allow(userID) {
				w.Header().Set("Retry-After", strconv.Itoa(l.retryAfterSeconds()))
				WriteAPIError(w, model.NewRateLimitedError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// allow はユーザーのトークンを1つ消費する。
// 前回の掃除からsweepInterval以上経過していれば期限切れのエントリも掃除する。
func (l *UserRateLimiter) allow(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) >= l.sweepInterval {
		l.sweep(now)
	}

	ul, ok := l.limiters[userID]
	if !ok {
		ul = &userLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[userID] = ul
	}
	ul.lastAccess = now
	return ul.limiter.AllowN(now, 1)
}

// sweep はttlより長くアクセスのないエントリを破棄する。呼び出し側でmuを保持すること。
func (l *UserRateLimiter) sweep(now time.Time) {
	for id, ul := range l.limiters {
		if now.Sub(ul.lastAccess) > l.ttl {
			delete(l.limiters, id)
		}
	}
	l.lastSweep = now
}

// Len は保持しているリミッター数を返す。
func (l *UserRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// retryAfterSeconds は1トークンが補充されるまでの秒数。
func (l *UserRateLimiter) retryAfterSeconds() int {
	if l.limit <= 0 {
		return 60
	}
	return max(1, int(math.Ceil(1/float64(l.limit))))
}
