package registry

import (
	"context"
	"reflect"
	"testing"

	"github.com/snackbag/hostctl/pkg/descriptor"
	"github.com/snackbag/hostctl/pkg/pipeline"
	"github.com/snackbag/hostctl/pkg/store"
)

type fakeAccounts struct {
	existing map[string]bool
}

func (f *fakeAccounts) Exists(username string) bool { return f.existing[username] }

func newTestRegistry(t *testing.T) (*Registry, *store.FileStore) {
	t.Helper()
	st, err := store.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return New(st, &fakeAccounts{existing: map[string]bool{"root": true}}), st
}

func validStatic(name string) *descriptor.Project {
	p := &descriptor.Project{
		Type:    descriptor.StaticSite,
		Project: name,
		GitHub:  "git@github.com:kris/" + name + ".git",
	}
	p.ApplyDefaults("snackbag.net")
	return p
}

func TestCreateStepsPerType(t *testing.T) {
	tests := []struct {
		typ  descriptor.Type
		want []string
	}{
		{descriptor.StaticSite, []string{"account", "deploy-key", "checkout", "webserver", "descriptor"}},
		{descriptor.RedirectSite, []string{"webserver", "descriptor"}},
		{descriptor.Proxy, []string{"webserver", "descriptor"}},
		{descriptor.WSGISite, []string{"account", "deploy-key", "checkout", "runtime", "webserver", "descriptor"}},
		{descriptor.DiscordBot, []string{"account", "deploy-key", "checkout", "runtime", "log-routing", "supervisor", "descriptor"}},
		{descriptor.GoSite, []string{"account", "deploy-key", "checkout", "runtime", "log-routing", "supervisor", "webserver", "descriptor"}},
	}
	for _, tt := range tests {
		got, err := CreateSteps(tt.typ)
		if err != nil {
			t.Fatalf("CreateSteps(%s) failed: %v", tt.typ, err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("CreateSteps(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestDeleteStepsAreReversedAndFiltered(t *testing.T) {
	tests := []struct {
		typ  descriptor.Type
		want []string
	}{
		{descriptor.StaticSite, []string{"webserver", "account", "descriptor"}},
		{descriptor.RedirectSite, []string{"webserver", "descriptor"}},
		{descriptor.GoSite, []string{"webserver", "supervisor", "log-routing", "account", "descriptor"}},
		{descriptor.DiscordBot, []string{"supervisor", "log-routing", "account", "descriptor"}},
	}
	for _, tt := range tests {
		got, err := DeleteSteps(tt.typ)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("DeleteSteps(%s) = %v, want %v", tt.typ, got, tt.want)
		}
	}
}

func TestDeleteStepsEndWithDescriptor(t *testing.T) {
	for _, typ := range descriptor.Types {
		steps, err := DeleteSteps(typ)
		if err != nil {
			t.Fatal(err)
		}
		if steps[len(steps)-1] != StepDescriptor {
			t.Errorf("%s: descriptor removal must come last, got %v", typ, steps)
		}
	}
}

func TestValidateCreateAccepts(t *testing.T) {
	r, _ := newTestRegistry(t)
	if err := r.ValidateCreate(context.Background(), validStatic("blog")); err != nil {
		t.Errorf("valid descriptor rejected: %v", err)
	}
}

func TestValidateCreateRejections(t *testing.T) {
	r, st := newTestRegistry(t)
	ctx := context.Background()

	// Seed an existing project for name and hostname collisions.
	existing := validStatic("taken")
	if err := st.Put(ctx, "taken", existing); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name     string
		proj     *descriptor.Project
		wantCode string
	}{
		{
			name:     "name already exists",
			proj:     validStatic("taken"),
			wantCode: pipeline.CodeAlreadyExists,
		},
		{
			name: "hostname collision",
			proj: func() *descriptor.Project {
				p := validStatic("blog")
				p.Hostname = "taken.snackbag.net"
				return p
			}(),
			wantCode: pipeline.CodeValidation,
		},
		{
			name: "missing github",
			proj: func() *descriptor.Project {
				p := validStatic("blog")
				p.GitHub = ""
				return p
			}(),
			wantCode: pipeline.CodeValidation,
		},
		{
			name: "redirect without to-hostname",
			proj: func() *descriptor.Project {
				p := &descriptor.Project{Type: descriptor.RedirectSite, Project: "old"}
				p.ApplyDefaults("snackbag.net")
				return p
			}(),
			wantCode: pipeline.CodeValidation,
		},
		{
			name: "proxy without port",
			proj: func() *descriptor.Project {
				p := &descriptor.Project{Type: descriptor.Proxy, Project: "relay"}
				p.ApplyDefaults("snackbag.net")
				return p
			}(),
			wantCode: pipeline.CodeValidation,
		},
		{
			name: "username is an existing OS account",
			proj: func() *descriptor.Project {
				p := validStatic("blog")
				p.Username = "root"
				return p
			}(),
			wantCode: pipeline.CodeValidation,
		},
		{
			name:     "unsupported type",
			proj:     &descriptor.Project{Type: "php_site", Project: "x"},
			wantCode: pipeline.CodeUnsupportedType,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateCreate(ctx, tt.proj)
			if err == nil {
				t.Fatal("expected rejection")
			}
			if code := pipeline.CodeOf(err); code != tt.wantCode {
				t.Errorf("code = %q, want %q (%v)", code, tt.wantCode, err)
			}
		})
	}
}
