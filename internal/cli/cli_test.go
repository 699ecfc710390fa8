// © 2024 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"strings"
	"testing"

	"github.com/fluffy-critter/rss2discord/internal/testutil"
)

type testApp struct {
	flagVal string
	gotArgs []string
	err     error
}

func (a *testApp) Flags(fs *flag.FlagSet) {
	fs.StringVar(&a.flagVal, "val", "", "Test value.")
}

func (a *testApp) Run(ctx context.Context) error {
	a.gotArgs = GetEnv(ctx).Args
	return a.err
}

func testEnv(args ...string) *Env {
	return &Env{
		Args:   args,
		Getenv: func(string) string { return "" },
		Stdin:  strings.NewReader(""),
		Stdout: new(bytes.Buffer),
		Stderr: new(bytes.Buffer),
	}
}

func TestRunPassesArgs(t *testing.T) {
	t.Parallel()

	app := new(testApp)
	if err := Run(t.Context(), app, testEnv("-val", "x", "a", "b")); err != nil {
		t.Fatal(err)
	}
	testutil.AssertEqual(t, app.flagVal, "x")
	testutil.AssertEqual(t, app.gotArgs, []string{"a", "b"})
}

func TestRunVersionFlag(t *testing.T) {
	t.Parallel()

	err := Run(t.Context(), new(testApp), testEnv("-version"))
	if !errors.Is(err, ErrExitVersion) {
		t.Fatalf("want ErrExitVersion, got %v", err)
	}
	testutil.AssertEqual(t, isPrintableError(err), false)
}

func TestRunPropagatesAppError(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("app failed")
	err := Run(t.Context(), &testApp{err: wantErr}, testEnv())
	if !errors.Is(err, wantErr) {
		t.Fatalf("want %v, got %v", wantErr, err)
	}
	testutil.AssertEqual(t, isPrintableError(err), true)
}
