package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	err := cmd.Execute()
	return out.String(), err
}

func TestModcheck_Args(t *testing.T) {
	out, err := execute(t, "", "This is a great idea", "You are so stupid")
	require.ErrorIs(t, err, errBlocked)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "clean\t\"This is a great idea\"", lines[0])
	assert.Equal(t, "blocked\t\"You are so stupid\"", lines[1])
}

func TestModcheck_AllClean(t *testing.T) {
	out, err := execute(t, "", "Let's review chapter 5 together")
	require.NoError(t, err)
	assert.Equal(t, "clean\t\"Let's review chapter 5 together\"\n", out)
}

func TestModcheck_Stdin(t *testing.T) {
	out, err := execute(t, "h4t3 speech\nsee you at 5\nI d.u.m.b.ly missed this\n", "--explain")
	require.ErrorIs(t, err, errBlocked)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "blocked\tdeleeted\thate\t\"h4t3 speech\"", lines[0])
	assert.Equal(t, "clean\t\"see you at 5\"", lines[1])
	assert.Equal(t, "blocked\tcompacted\tdumb\t\"I d.u.m.b.ly missed this\"", lines[2])
}

func TestModcheck_Blocklist(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocklist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("blocklist:\n  - slacker\n"), 0o600))

	_, err := execute(t, "", "--blocklist", path, "you are stupid")
	require.NoError(t, err, "custom list replaces the built-in one")

	_, err = execute(t, "", "--blocklist", path, "s.l.4.c.k.e.r")
	require.ErrorIs(t, err, errBlocked)
}

func TestModcheck_MissingBlocklist(t *testing.T) {
	_, err := execute(t, "", "--blocklist", filepath.Join(t.TempDir(), "nope.yaml"), "hi")
	require.Error(t, err)
	assert.NotErrorIs(t, err, errBlocked)
}

type fakeStrikes struct {
	counts map[string]int
	mutes  map[string]time.Duration
}

func (f *fakeStrikes) Count(_ context.Context, user string) (int, error) { return f.counts[user], nil }

func (f *fakeStrikes) IsMuted(_ context.Context, user string) (bool, time.Duration, error) {
	d, ok := f.mutes[user]
	return ok, d, nil
}

func (f *fakeStrikes) Unmute(_ context.Context, user string) error {
	delete(f.mutes, user)
	return nil
}

func (f *fakeStrikes) Reset(_ context.Context, user string) error {
	delete(f.mutes, user)
	delete(f.counts, user)
	return nil
}

func withStrikes(t *testing.T, f *fakeStrikes) {
	t.Helper()
	orig := openStrikes
	openStrikes = func(context.Context, string) (strikeAdmin, func(), error) { return f, func() {}, nil }
	t.Cleanup(func() { openStrikes = orig })
}

func TestStrikes(t *testing.T) {
	f := &fakeStrikes{
		counts: map[string]int{"alice": 3, "bob": 1},
		mutes:  map[string]time.Duration{"alice": time.Hour},
	}
	withStrikes(t, f)

	out, err := execute(t, "", "strikes", "alice", "bob", "carol")
	require.NoError(t, err)
	assert.Equal(t, "alice\t3 strikes\tmuted for 1h0m0s\nbob\t1 strikes\tnot muted\ncarol\t0 strikes\tnot muted\n", out)

	out, err = execute(t, "", "strikes", "--unmute", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice\t3 strikes\tnot muted\n", out)

	out, err = execute(t, "", "strikes", "--reset", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice\t0 strikes\tnot muted\n", out)
}

func TestStrikes_Flags(t *testing.T) {
	withStrikes(t, &fakeStrikes{})

	_, err := execute(t, "", "strikes")
	assert.Error(t, err)

	_, err = execute(t, "", "strikes", "--unmute", "--reset", "alice")
	assert.Error(t, err)
}
