package dispatch

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/snackbag/hostctl/pkg/config"
	"github.com/snackbag/hostctl/pkg/descriptor"
	"github.com/snackbag/hostctl/pkg/pipeline"
	"github.com/snackbag/hostctl/pkg/resources"
	"github.com/snackbag/hostctl/pkg/store"
)

// fakeRunner records commands instead of executing them. File mutations
// are real so the pipelines leave an inspectable filesystem behind.
type fakeRunner struct {
	commands []string
}

func (r *fakeRunner) Run(_ context.Context, cmd resources.Command) (string, error) {
	argv := cmd.Argv
	if cmd.AsUser != "" {
		argv = append([]string{"sudo", "-u", cmd.AsUser, "--"}, argv...)
	}
	r.commands = append(r.commands, strings.Join(argv, " "))
	return "", nil
}

func (r *fakeRunner) WriteFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, perm)
}

func (r *fakeRunner) Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (r *fakeRunner) Rename(oldpath, newpath string) error {
	return os.Rename(oldpath, newpath)
}

func (r *fakeRunner) Pause(time.Duration) {}

func (r *fakeRunner) Note(string, ...any) {}

func (r *fakeRunner) DryRun() bool { return false }

func (r *fakeRunner) ran(prefix string) bool {
	for _, c := range r.commands {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func (r *fakeRunner) count(cmd string) int {
	n := 0
	for _, c := range r.commands {
		if c == cmd {
			n++
		}
	}
	return n
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	cfg := config.Default()
	cfg.StateDir = filepath.Join(root, "state")
	cfg.VHostDir = filepath.Join(root, "vhosts")
	cfg.DomainsFile = filepath.Join(root, "domains.conf")
	cfg.UnitDir = filepath.Join(root, "units")
	cfg.RsyslogDir = filepath.Join(root, "rsyslog.d")
	cfg.LogDir = filepath.Join(root, "logs")
	cfg.LogrotatePolicy = filepath.Join(root, "logrotate-hostctl")
	cfg.WebLogDir = filepath.Join(root, "weblogs")
	cfg.RestartPause = 0
	cfg.Operators = nil
	cfg.JournalPath = ""
	return cfg
}

// newTestDispatcher wires a dispatcher against a fake runner. OS accounts
// are simulated: a username resolves once the runner has recorded its
// useradd, with a home under the temp tree.
func newTestDispatcher(t *testing.T) (*Dispatcher, *fakeRunner, *config.Config, *store.FileStore) {
	t.Helper()
	cfg := testConfig(t)
	st, err := store.NewFileStore(cfg.StateDir)
	if err != nil {
		t.Fatal(err)
	}

	run := &fakeRunner{}
	homeRoot := filepath.Join(filepath.Dir(cfg.StateDir), "home")
	lookup := func(name string) (*user.User, error) {
		for _, c := range run.commands {
			if strings.HasPrefix(c, "useradd ") && strings.HasSuffix(c, " "+name) {
				return &user.User{Username: name, HomeDir: filepath.Join(homeRoot, name)}, nil
			}
		}
		return nil, user.UnknownUserError(name)
	}

	d := New(Options{
		Config:        cfg,
		Store:         st,
		Runner:        run,
		Engine:        &pipeline.Engine{},
		Mode:          pipeline.Mode{Timeout: time.Second},
		AccountLookup: lookup,
	})
	return d, run, cfg, st
}

func TestCreateStaticSite(t *testing.T) {
	d, run, cfg, st := newTestDispatcher(t)
	ctx := context.Background()

	p := &descriptor.Project{
		Type:    descriptor.StaticSite,
		Project: "blog",
		GitHub:  "git@github.com:kris/blog.git",
	}
	if err := d.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if !run.ran("useradd -m -s /bin/bash") {
		t.Error("account should be created")
	}
	if !run.ran("git clone git@github.com:kris/blog.git") {
		t.Errorf("repository should be cloned: %v", run.commands)
	}

	stored, err := st.Get(ctx, "blog")
	if err != nil {
		t.Fatalf("descriptor not persisted: %v", err)
	}
	if stored.Hostname != "blog.snackbag.net" {
		t.Errorf("hostname = %q, want blog.snackbag.net", stored.Hostname)
	}
	if stored.Home == "" {
		t.Error("home should be recorded on the descriptor")
	}
	if !strings.HasPrefix(stored.PubKey, "ssh-ed25519 ") {
		t.Errorf("pubkey = %q, want ssh-ed25519 material", stored.PubKey)
	}

	if _, err := os.Stat(filepath.Join(stored.Home, ".ssh", "id_ed25519")); err != nil {
		t.Error("deploy key should be written under the project home")
	}
	if _, err := os.Stat(filepath.Join(cfg.VHostDir, "blog.snackbag.net.conf")); err != nil {
		t.Error("vhost fragment should be written")
	}

	domains, err := os.ReadFile(cfg.DomainsFile)
	if err != nil {
		t.Fatalf("domains file not written: %v", err)
	}
	if !strings.Contains(string(domains), "MDomain blog.snackbag.net") {
		t.Errorf("domains file missing new hostname:\n%s", domains)
	}
	if got := run.count("systemctl restart apache2"); got != 2 {
		t.Errorf("got %d web server restarts, want 2", got)
	}
}

func TestCreateRejectsDuplicateName(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	first := &descriptor.Project{Type: descriptor.RedirectSite, Project: "old",
		ToHostname: "new.snackbag.net"}
	if err := d.Create(ctx, first); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	again := &descriptor.Project{Type: descriptor.RedirectSite, Project: "old",
		Hostname: "other.snackbag.net", ToHostname: "new.snackbag.net"}
	err := d.Create(ctx, again)
	if !pipeline.IsAlreadyExists(err) {
		t.Errorf("duplicate create error = %v, want ALREADY_EXISTS", err)
	}
}

func TestCreateDryRunLeavesNoTrace(t *testing.T) {
	cfg := testConfig(t)
	st, err := store.NewFileStore(cfg.StateDir)
	if err != nil {
		t.Fatal(err)
	}

	var report bytes.Buffer
	mode := pipeline.Mode{DryRun: true, Timeout: time.Second}
	run := resources.NewRunner(mode)
	run.Out = &report

	d := New(Options{
		Config: cfg,
		Store:  st,
		Runner: run,
		Engine: &pipeline.Engine{},
		Mode:   mode,
		Out:    &report,
		AccountLookup: func(name string) (*user.User, error) {
			return nil, user.UnknownUserError(name)
		},
	})

	p := &descriptor.Project{
		Type:    descriptor.StaticSite,
		Project: "blog",
		GitHub:  "git@github.com:kris/blog.git",
	}
	if err := d.Create(context.Background(), p); err != nil {
		t.Fatalf("dry-run create failed: %v", err)
	}

	names, err := st.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("dry-run must not persist descriptors, got %v", names)
	}
	if _, err := os.Stat(cfg.VHostDir); !os.IsNotExist(err) {
		t.Error("dry-run must not create vhost fragments")
	}
	if _, err := os.Stat(filepath.Join(cfg.StateDir, "locks", "blog")); !os.IsNotExist(err) {
		t.Error("dry-run must not leave a lock file")
	}

	out := report.String()
	for _, want := range []string{
		"would run: useradd",
		"would run: git clone git@github.com:kris/blog.git",
		"would run: systemctl restart apache2",
		`would store descriptor for "blog"`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("dry-run report missing %q:\n%s", want, out)
		}
	}
}

func TestDeleteTearsDownGoSite(t *testing.T) {
	d, run, cfg, st := newTestDispatcher(t)
	ctx := context.Background()

	p := &descriptor.Project{
		Type:    descriptor.GoSite,
		Project: "shop",
		GitHub:  "git@github.com:kris/shop.git",
		Port:    9000,
	}
	if err := d.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	run.commands = nil
	if err := d.Delete(ctx, "shop"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(cfg.VHostDir, "shop.snackbag.net.conf")); !os.IsNotExist(err) {
		t.Error("vhost fragment should be removed")
	}
	if _, err := os.Stat(filepath.Join(cfg.UnitDir, "shop.service")); !os.IsNotExist(err) {
		t.Error("unit file should be removed")
	}
	if _, err := os.Stat(filepath.Join(cfg.RsyslogDir, "hostctl-shop.conf")); !os.IsNotExist(err) {
		t.Error("log routing rule should be removed")
	}
	if !run.ran("userdel -r shop") {
		t.Error("account should be removed")
	}
	if _, err := st.Get(ctx, "shop"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("descriptor should be gone, got %v", err)
	}

	// A second delete finds nothing to do.
	if err := d.Delete(ctx, "shop"); !pipeline.IsNotFound(err) {
		t.Errorf("second delete error = %v, want NOT_FOUND", err)
	}
}

func TestStopAndStartProxy(t *testing.T) {
	d, _, cfg, _ := newTestDispatcher(t)
	ctx := context.Background()

	p := &descriptor.Project{Type: descriptor.Proxy, Project: "relay", Port: 9000}
	if err := d.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	fragment := filepath.Join(cfg.VHostDir, "relay.snackbag.net.conf")

	if err := d.Stop(ctx, "relay"); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if _, err := os.Stat(fragment); !os.IsNotExist(err) {
		t.Error("fragment should be disabled after stop")
	}
	if _, err := os.Stat(fragment + ".disabled"); err != nil {
		t.Error("disabled fragment should be retained")
	}

	if err := d.Start(ctx, "relay"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if _, err := os.Stat(fragment); err != nil {
		t.Error("fragment should be back after start")
	}
}

func TestUpdateDiscordBot(t *testing.T) {
	d, run, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	p := &descriptor.Project{
		Type:    descriptor.DiscordBot,
		Project: "bot",
		GitHub:  "git@github.com:kris/bot.git",
	}
	if err := d.Create(ctx, p); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	run.commands = nil
	if err := d.Update(ctx, "bot"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	if !run.ran("sudo -u bot -- git -C") {
		t.Errorf("update should refresh the checkout as the project user: %v", run.commands)
	}
	if !run.ran("sudo -u bot -- python3 -m venv") {
		t.Errorf("update should rebuild the runtime: %v", run.commands)
	}
	if !run.ran("systemctl stop bot") || !run.ran("systemctl start bot") {
		t.Errorf("update should restart the supervised process: %v", run.commands)
	}
}

func TestUpdateRejectsTypesWithoutCheckout(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	p := &descriptor.Project{Type: descriptor.Proxy, Project: "relay", Port: 9000}
	if err := d.Create(ctx, p); err != nil {
		t.Fatal(err)
	}
	if err := d.Update(ctx, "relay"); !pipeline.IsValidation(err) {
		t.Errorf("update on proxy error = %v, want VALIDATION", err)
	}
}

func TestOperationsOnUnknownProject(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	ctx := context.Background()

	for name, op := range map[string]func() error{
		"delete":  func() error { return d.Delete(ctx, "ghost") },
		"start":   func() error { return d.Start(ctx, "ghost") },
		"stop":    func() error { return d.Stop(ctx, "ghost") },
		"restart": func() error { return d.Restart(ctx, "ghost") },
		"update":  func() error { return d.Update(ctx, "ghost") },
	} {
		if err := op(); !pipeline.IsNotFound(err) {
			t.Errorf("%s on unknown project error = %v, want NOT_FOUND", name, err)
		}
	}
}

func TestOperatorGate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Operators = []string{"kris", "joram"}
	st, err := store.NewFileStore(cfg.StateDir)
	if err != nil {
		t.Fatal(err)
	}

	d := New(Options{
		Config:   cfg,
		Store:    st,
		Runner:   &fakeRunner{},
		Engine:   &pipeline.Engine{},
		Mode:     pipeline.Mode{Timeout: time.Second},
		Operator: "mallory",
	})

	ctx := context.Background()
	p := &descriptor.Project{Type: descriptor.Proxy, Project: "relay", Port: 9000}
	if err := d.Create(ctx, p); !pipeline.IsValidation(err) {
		t.Errorf("create by non-operator error = %v, want VALIDATION", err)
	}

	// Read operations are gated too; unlisted users see nothing, not even
	// log contents or descriptors.
	seeded := &descriptor.Project{Type: descriptor.Proxy, Project: "relay",
		Hostname: "relay.snackbag.net", Port: 9000}
	if err := st.Put(ctx, "relay", seeded); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Show(ctx, "relay"); !pipeline.IsValidation(err) {
		t.Errorf("show by non-operator error = %v, want VALIDATION", err)
	}
	if _, err := d.Projects(ctx); !pipeline.IsValidation(err) {
		t.Errorf("project listing by non-operator error = %v, want VALIDATION", err)
	}
	var out bytes.Buffer
	if err := d.Logs(ctx, "relay", false, 10, &out); !pipeline.IsValidation(err) {
		t.Errorf("logs by non-operator error = %v, want VALIDATION", err)
	}
	if out.Len() != 0 {
		t.Errorf("logs must not reach a non-operator, got:\n%s", out.String())
	}
	if _, err := d.History(ctx, "", 10); !pipeline.IsValidation(err) {
		t.Errorf("history by non-operator error = %v, want VALIDATION", err)
	}
}

func TestLogsDumpRoutedLog(t *testing.T) {
	d, _, cfg, st := newTestDispatcher(t)
	ctx := context.Background()

	p := &descriptor.Project{Type: descriptor.DiscordBot, Project: "bot",
		GitHub: "git@github.com:kris/bot.git", Username: "bot", ProjectDir: "bot"}
	if err := st.Put(ctx, "bot", p); err != nil {
		t.Fatal(err)
	}

	logPath := filepath.Join(cfg.LogDir, "bot.log")
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(logPath, []byte("ready\nconnected\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	if err := d.Logs(ctx, "bot", false, 10, &out); err != nil {
		t.Fatalf("Logs failed: %v", err)
	}
	body := out.String()
	if !strings.Contains(body, logPath) {
		t.Errorf("output should name the log file:\n%s", body)
	}
	if !strings.Contains(body, "connected") {
		t.Errorf("output should contain the log tail:\n%s", body)
	}
}

func TestHistoryDisabledWithoutJournal(t *testing.T) {
	d, _, _, _ := newTestDispatcher(t)
	if _, err := d.History(context.Background(), "", 10); err == nil {
		t.Error("history without a journal should fail")
	}
}
