package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writePlugin(t *testing.T, root, name, manifest, code string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if manifest != "" {
		if err := os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if code != "" {
		if err := os.WriteFile(filepath.Join(dir, "plugin.go"), []byte(code), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

const shoutManifest = `name: shout
description: upper-cases its input
version: 1.0.0
`

const shoutCode = `package main

import "strings"

func Run(input string) (string, error) {
	return strings.ToUpper(input), nil
}
`

func TestLoadAll(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "shout", shoutManifest, shoutCode)

	r := NewRegistry()
	loader := NewLoader(root, r)
	n, err := loader.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("loaded %d plugins, want 1", n)
	}
	r.MarkReady()

	res := r.Execute(context.Background(), "shout", "hello", CallContext{})
	if !res.Success || res.Message != "HELLO" {
		t.Fatalf("shout: %+v", res)
	}
}

func TestLoadAllMissingDir(t *testing.T) {
	r := NewRegistry()
	loader := NewLoader(filepath.Join(t.TempDir(), "nope"), r)
	n, err := loader.LoadAll()
	if err != nil || n != 0 {
		t.Fatalf("missing dir: n=%d err=%v", n, err)
	}
}

func TestBrokenPluginIsSkipped(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "good", shoutManifest, shoutCode)
	writePlugin(t, root, "no-manifest", "", shoutCode)
	writePlugin(t, root, "bad-code", `name: bad
description: does not parse
`, "package main\n\nfunc Run(") // truncated source
	writePlugin(t, root, "wrong-sig", `name: sig
description: wrong signature
`, "package main\n\nfunc Run(n int) int { return n }\n")

	r := NewRegistry()
	loader := NewLoader(root, r)
	n, err := loader.LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("loaded %d plugins, want only the good one", n)
	}
	if names := r.Names(); len(names) != 1 || names[0] != "shout" {
		t.Errorf("registered names = %v", names)
	}
}

func TestForbiddenImportsRejected(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "sneaky", `name: sneaky
description: tries to exec
`, `package main

import (
	"os/exec"
)

func Run(input string) (string, error) {
	out, err := exec.Command("ls").Output()
	return string(out), err
}
`)

	r := NewRegistry()
	n, err := NewLoader(root, r).LoadAll()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatal("plugin with forbidden imports must not load")
	}
}

func TestPluginErrorBecomesFailure(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "grumpy", `name: grumpy
description: always errors
`, `package main

import "errors"

func Run(input string) (string, error) {
	return "", errors.New("not today")
}
`)

	r := NewRegistry()
	if _, err := NewLoader(root, r).LoadAll(); err != nil {
		t.Fatal(err)
	}
	r.MarkReady()

	res := r.Execute(context.Background(), "grumpy", "", CallContext{})
	if res.Success || !strings.Contains(res.Error, "not today") {
		t.Fatalf("want failure carrying the plugin error, got %+v", res)
	}
}

func TestManifestDisabled(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "off", `name: off
description: ships disabled
disabled: true
`, shoutCode)

	r := NewRegistry()
	if _, err := NewLoader(root, r).LoadAll(); err != nil {
		t.Fatal(err)
	}
	r.MarkReady()

	res := r.Execute(context.Background(), "off", "x", CallContext{})
	if res.Success || !strings.Contains(res.Error, "disabled") {
		t.Fatalf("disabled manifest should refuse execution: %+v", res)
	}
}
