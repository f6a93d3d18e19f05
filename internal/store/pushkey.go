package store

import (
	"crypto/rand"
	"math/big"
	"sync"
	"time"
)

// pushChars is in ASCII order so that keys compare like their timestamps.
const pushChars = "-0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ_abcdefghijklmnopqrstuvwxyz"

// pushKeyGenerator produces 20-character keys: 8 characters of millisecond
// timestamp followed by 12 random characters. Keys generated within the
// same millisecond increment the random part, so they stay ordered.
type pushKeyGenerator struct {
	mu       sync.Mutex
	lastTime int64
	lastRand [12]int
	now      func() time.Time
}

func newPushKeyGenerator() *pushKeyGenerator {
	return &pushKeyGenerator{now: time.Now}
}

func (g *pushKeyGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now().UnixMilli()
	if now < g.lastTime {
		// Clock went backwards; keep ordering by reusing the last time.
		now = g.lastTime
	}

	if now == g.lastTime {
		i := len(g.lastRand) - 1
		for ; i >= 0 && g.lastRand[i] == len(pushChars)-1; i-- {
			g.lastRand[i] = 0
		}
		if i >= 0 {
			g.lastRand[i]++
		}
	} else {
		for i := range g.lastRand {
			g.lastRand[i] = randomIndex()
		}
	}
	g.lastTime = now

	var key [20]byte
	ts := now
	for i := 7; i >= 0; i-- {
		key[i] = pushChars[ts%int64(len(pushChars))]
		ts /= int64(len(pushChars))
	}
	for i, r := range g.lastRand {
		key[8+i] = pushChars[r]
	}
	return string(key[:])
}

func randomIndex() int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(pushChars))))
	if err != nil {
		return 0
	}
	return int(n.Int64())
}
