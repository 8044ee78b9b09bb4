package main

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	ok := cfg{DSN: "postgres://x", Count: 10, FriendRate: 0.1}
	assert.NoError(t, ok.validate())

	noDSN := ok
	noDSN.DSN = ""
	assert.Error(t, noDSN.validate())

	badCount := ok
	badCount.Count = 0
	assert.Error(t, badCount.validate())

	badRate := ok
	badRate.DismissRate = 1.5
	assert.Error(t, badRate.validate())
}

func TestPickIsDeterministic(t *testing.T) {
	a := pick(rand.New(rand.NewSource(7)), interests, 3)
	b := pick(rand.New(rand.NewSource(7)), interests, 3)
	assert.Equal(t, a, b)
	assert.Len(t, a, 3)

	all := pick(rand.New(rand.NewSource(7)), sports, 100)
	assert.ElementsMatch(t, sports, all)
}

func TestUniqueUsername(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	used := map[string]struct{}{}
	for i := 0; i < 200; i++ {
		uniqueUsername(r, used)
	}
	assert.Len(t, used, 200)
}
