package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"codetrail/internal/flagx"
	"codetrail/internal/sync"
)

func (a *App) cmdLogin(ctx context.Context) error {
	access, err := a.readSecret("Access token: ")
	if err != nil {
		return err
	}
	refresh, err := a.readSecret("Refresh token (optional): ")
	if err != nil {
		return err
	}

	tokens, err := a.auth.Login(ctx, access, refresh)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Logged in as %s\n", tokens.UserID)
	return nil
}

func (a *App) cmdLogout(ctx context.Context) error {
	if err := a.auth.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Logged out")
	return nil
}

func (a *App) cmdSync(ctx context.Context) error {
	res, err := a.orch.Sync(ctx)
	if err != nil {
		return err
	}
	a.printResult(res)
	return nil
}

func (a *App) cmdPush(ctx context.Context, args []string) error {
	var opts sync.PushOptions
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	fs.BoolVar(&opts.Force, "force", false, "reset all commits and re-push everything")
	fs.BoolVar(&opts.DryRun, "dry-run", false, "report what would be pushed, change nothing")
	fs.BoolVar(&opts.Retry, "retry", false, "retry commits that previously failed")
	fs.BoolVar(&opts.Verbose, "verbose", false, "log per-commit progress")
	err := fs.Parse(flagx.BoolFilterArgs(args, []string{"-force", "-dry-run", "-retry", "-verbose"}))
	if err != nil {
		return err
	}

	res, err := a.orch.Push(ctx, opts)
	if err != nil {
		return err
	}
	if opts.DryRun {
		fmt.Fprintf(a.out, "Would push %d commit(s), %d filtered\n", res.Pushed, res.Filtered)
		return nil
	}
	a.printResult(res)
	return nil
}

func (a *App) cmdPull(ctx context.Context, args []string) error {
	var opts sync.PullOptions
	fs := flag.NewFlagSet("pull", flag.ContinueOnError)
	fs.BoolVar(&opts.Verbose, "verbose", false, "log per-record progress")
	if err := fs.Parse(flagx.BoolFilterArgs(args, []string{"-verbose"})); err != nil {
		return err
	}

	res, err := a.orch.Pull(ctx, opts)
	if err != nil {
		return err
	}
	a.printResult(res)
	return nil
}

func (a *App) cmdResolve(ctx context.Context, args []string) error {
	var auto, keepLocal, keepCloud bool
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.BoolVar(&auto, "auto", false, "auto-resolve all conflicts, last write wins")
	fs.BoolVar(&keepLocal, "keep-local", false, "keep the local edits")
	fs.BoolVar(&keepCloud, "keep-cloud", false, "keep the remote record")
	if err := fs.Parse(flagx.BoolFilterArgs(args, []string{"-auto", "-keep-local", "-keep-cloud"})); err != nil {
		return err
	}

	if auto {
		res, err := a.orch.AutoResolve(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Resolved %d conflict(s)\n", res.Resolved)
		for _, msg := range res.Errors {
			fmt.Fprintf(a.out, "  error: %s\n", msg)
		}
		return nil
	}

	var id string
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			id = arg
			break
		}
	}
	if id == "" || keepLocal == keepCloud {
		return fmt.Errorf("usage: resolve <id> -keep-local|-keep-cloud, or resolve -auto")
	}

	if keepLocal {
		if err := a.orch.ResolveKeepLocal(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Kept local edits for %s; run push to upload them\n", id)
		return nil
	}
	if err := a.orch.ResolveKeepCloud(ctx, id); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Replaced %s with the remote record\n", id)
	return nil
}

func (a *App) cmdStatus(ctx context.Context) error {
	st, err := a.orch.Status(ctx)
	if err != nil {
		return err
	}

	last := "never"
	if st.LastSyncAt != nil {
		last = st.LastSyncAt.Local().Format("2006-01-02 15:04:05")
	}
	online := "offline"
	if st.IsOnline {
		online = "online"
	}

	fmt.Fprintf(a.out, "Last sync:  %s (%s)\n", last, online)
	fmt.Fprintf(a.out, "Pending:    %d\n", st.Pending)
	fmt.Fprintf(a.out, "Synced:     %d\n", st.Synced)
	fmt.Fprintf(a.out, "Conflicts:  %d\n", st.Conflict)
	fmt.Fprintf(a.out, "Errors:     %d\n", st.Error)
	fmt.Fprintf(a.out, "Filtered:   %d\n", st.Filtered)
	if st.IsSyncing {
		fmt.Fprintln(a.out, "A sync is currently running")
	}
	if st.Conflict > 0 {
		fmt.Fprintln(a.out, "Run `codetrail resolve` to settle conflicts")
	}
	return nil
}

func (a *App) cmdWatch(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(a.out, "Syncing every %s, Ctrl+C to stop\n", a.config.SyncInterval)
	a.queue.Start(ctx)
	a.queue.Notify()

	<-ctx.Done()
	fmt.Fprintln(a.out, "Stopping...")
	a.queue.Stop()
	return nil
}

func (a *App) cmdWipe(ctx context.Context) error {
	fmt.Fprint(a.out, "This deletes ALL remote data for your account. Type 'yes' to continue: ")
	line, err := a.in.ReadString('\n')
	if err != nil {
		return err
	}
	if strings.TrimSpace(line) != "yes" {
		fmt.Fprintln(a.out, "Aborted")
		return nil
	}

	if err := a.orch.Wipe(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Remote data deleted; local commits reset to pending")
	return nil
}

// readSecret reads a line without echoing when stdin is a terminal.
func (a *App) readSecret(prompt string) (string, error) {
	fmt.Fprint(a.out, prompt)
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(a.out)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := a.in.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *App) printResult(res *sync.Result) {
	fmt.Fprintf(a.out, "Pushed %d, pulled %d, deleted %d\n", res.Pushed, res.Pulled, res.Deleted)
	if res.Resolved > 0 {
		fmt.Fprintf(a.out, "Auto-resolved %d conflict(s)\n", res.Resolved)
	}
	if res.Filtered > 0 {
		fmt.Fprintf(a.out, "Filtered %d commit(s)\n", res.Filtered)
	}
	if res.Conflicts > 0 {
		fmt.Fprintf(a.out, "%d conflict(s) need resolution, run `codetrail resolve`\n", res.Conflicts)
	}
	if res.QuotaExhausted {
		fmt.Fprintf(a.out, "Commit quota reached, %d commit(s) deferred; upgrade to push more\n", res.Deferred)
	} else if res.Deferred > 0 {
		fmt.Fprintf(a.out, "%d commit(s) deferred by quota\n", res.Deferred)
	}
	for _, msg := range res.Errors {
		fmt.Fprintf(a.out, "  error: %s\n", msg)
	}
}
