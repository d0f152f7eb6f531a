package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/shlex"
	"github.com/stemsi/exstem-assess/internal/model"
	"github.com/stemsi/exstem-assess/internal/service"
	"github.com/stemsi/exstem-assess/internal/validator"
)

// codeTerminator ends multi-line code entry.
const codeTerminator = "."

// errExit stops the loop.
var errExit = errors.New("exit")

// Options tune the REPL.
type Options struct {
	// AssumeYes answers the submit confirmation without asking.
	AssumeYes bool
	// Interactive is true when input comes from a terminal. A submit that
	// is neither interactive nor pre-confirmed is refused.
	Interactive bool
}

// REPL drives one assessment session from a line-oriented terminal.
type REPL struct {
	session *service.Session
	reader  *bufio.Reader
	opts    Options

	mu  sync.Mutex
	out *bufio.Writer
}

func New(session *service.Session, in io.Reader, out io.Writer, opts Options) *REPL {
	return &REPL{
		session: session,
		reader:  bufio.NewReader(in),
		out:     bufio.NewWriter(out),
		opts:    opts,
	}
}

// Run reads commands until exit, end of input or ctx cancellation. Session
// events such as warnings and completion are printed as they arrive.
func (r *REPL) Run(ctx context.Context) error {
	events, unsubscribe := r.session.Subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)
	go r.watch(events, done)

	r.render(r.session.Snapshot())
	for {
		if ctx.Err() != nil {
			return nil
		}
		r.prompt()
		line, err := r.reader.ReadString('\n')
		if err != nil && line == "" {
			if errors.Is(err, io.EOF) {
				r.printLine("bye")
				return nil
			}
			return fmt.Errorf("read input failed: %w", err)
		}

		if err := r.Execute(ctx, line); err != nil {
			if errors.Is(err, errExit) {
				r.printLine("bye")
				return nil
			}
			r.printLine("error: %v", err)
		}
	}
}

func (r *REPL) watch(events <-chan model.SessionEvent, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			switch evt.Type {
			case model.EventWarning:
				if evt.Verdict != nil {
					r.printLine("\n! warning %d/%d: %s", evt.Verdict.Count, evt.Verdict.Limit, service.FullscreenInstruction)
				}
			case model.EventCompleted:
				r.printLine("\n* assessment completed (%s)", evt.Reason)
			}
		}
	}
}

// Execute runs a single command line.
func (r *REPL) Execute(ctx context.Context, line string) error {
	tokens, err := shlex.Split(strings.TrimSpace(line))
	if err != nil {
		return fmt.Errorf("parse command failed: %w", err)
	}
	if len(tokens) == 0 {
		return nil
	}
	name, args := strings.ToLower(tokens[0]), tokens[1:]

	switch name {
	case "exit", "quit":
		return errExit
	case "help":
		r.printHelp()
	case "view":
		r.render(r.session.Snapshot())
	case "list":
		r.list(r.session.Snapshot())
	case "select":
		return r.selectQuestion(args)
	case "skip":
		idx, err := r.session.Skip()
		if err != nil {
			return err
		}
		r.printLine("question %d", idx+1)
	case "languages":
		for _, l := range r.session.Languages(ctx) {
			r.printLine("%4d  %s", l.ID, l.Name)
		}
	case "lang":
		return r.changeLanguage(ctx, args)
	case "load":
		return r.load(ctx, args)
	case "code":
		return r.enterCode(ctx)
	case "run":
		return r.run(ctx)
	case "submit":
		return r.submit(ctx)
	case "timer":
		t, ok := r.session.Timer()
		if !ok {
			r.printLine("timer is not running")
			return nil
		}
		r.printLine("%s left (%s)", t.FormattedTime, t.WarningLevel)
	case "start":
		return r.start(ctx, args)
	case "reset":
		if err := r.session.Reset(ctx); err != nil {
			return err
		}
		r.printLine("assessment reset")
	default:
		return fmt.Errorf("unknown command %q, type help", name)
	}
	return nil
}

func (r *REPL) selectQuestion(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: select N")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid question number %q", args[0])
	}
	if err := r.session.SelectQuestion(n - 1); err != nil {
		return err
	}
	r.render(r.session.Snapshot())
	return nil
}

func (r *REPL) changeLanguage(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: lang ID")
	}
	id, err := strconv.Atoi(args[0])
	if err != nil || id <= 0 {
		return fmt.Errorf("invalid language id %q", args[0])
	}
	qs, err := r.session.ChangeLanguage(ctx, id)
	if err != nil {
		return err
	}
	r.printLine("language set to %d", qs.LanguageID)
	return nil
}

func (r *REPL) load(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: load FILE")
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read source failed: %w", err)
	}
	return r.saveCode(ctx, string(data))
}

func (r *REPL) enterCode(ctx context.Context) error {
	if err := r.requireWorkspace(); err != nil {
		return err
	}
	r.printLine("enter code, finish with a line containing only %q", codeTerminator)
	var b strings.Builder
	for {
		line, err := r.reader.ReadString('\n')
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == codeTerminator {
			break
		}
		b.WriteString(trimmed)
		b.WriteByte('\n')
		if err != nil {
			break
		}
	}
	return r.saveCode(ctx, b.String())
}

func (r *REPL) saveCode(ctx context.Context, code string) error {
	qs, err := r.session.UpdateCode(ctx, code)
	if err != nil {
		return err
	}
	r.printLine("saved %d bytes (%s)", len(qs.Code), qs.Status)
	return nil
}

func (r *REPL) run(ctx context.Context) error {
	r.printLine("running...")
	result, err := r.session.RunCode(ctx)
	if result != nil {
		r.renderResult(result)
	}
	return err
}

func (r *REPL) submit(ctx context.Context) error {
	confirmed, err := r.confirm("Submit your solution? This cannot be undone.")
	if err != nil {
		return err
	}
	if confirmed {
		r.printLine("submitting...")
	}
	result, err := r.session.SubmitCode(ctx, confirmed)
	if result != nil {
		r.renderResult(result)
	}
	return err
}

// confirm asks a y/N question. Without a terminal only AssumeYes confirms.
func (r *REPL) confirm(question string) (bool, error) {
	if r.opts.AssumeYes {
		return true, nil
	}
	if !r.opts.Interactive {
		r.printLine("confirmation needed, rerun with --yes to submit non-interactively")
		return false, nil
	}
	r.write("%s [y/N]: ", question)
	line, err := r.reader.ReadString('\n')
	if err != nil && line == "" {
		return false, fmt.Errorf("read input failed: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}

func (r *REPL) start(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return errors.New(`usage: start "FULL NAME" EMAIL`)
	}
	req := model.StartAssessmentRequest{FullName: args[0], Email: args[1]}
	if fields := validator.Validate(&req); fields != nil {
		keys := make([]string, 0, len(fields))
		for k := range fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		msgs := make([]string, 0, len(keys))
		for _, k := range keys {
			msgs = append(msgs, fields[k])
		}
		return errors.New(strings.Join(msgs, "; "))
	}
	if err := r.session.Begin(ctx, req.FullName, req.Email); err != nil {
		return err
	}
	r.render(r.session.Snapshot())
	return nil
}

func (r *REPL) requireWorkspace() error {
	if r.session.Status() != model.AssessmentStatusInProgress {
		return service.ErrNotInProgress
	}
	return nil
}

func (r *REPL) prompt() {
	label := "assess"
	if t, ok := r.session.Timer(); ok && t.IsActive {
		label = "assess " + t.FormattedTime
	}
	r.write("%s> ", label)
}

func (r *REPL) render(v model.SessionView) {
	a := v.Assessment
	switch v.Screen {
	case model.ScreenIntro:
		r.printLine("%s: %d problems, %d minutes", a.Contest.Name, len(a.Problems), a.Contest.Duration)
		r.printLine(`type: start "FULL NAME" EMAIL`)
	case model.ScreenEnd:
		r.printLine("%s is completed. Thank you!", a.Contest.Name)
	default:
		if len(a.Problems) == 0 {
			r.printLine("no problems")
			return
		}
		p := a.Problems[v.CurrentQuestion]
		qs := v.Questions[v.CurrentQuestion]
		r.printLine("[%d/%d] %s (%s) language %d, %s", v.CurrentQuestion+1, len(a.Problems), p.Name, p.Difficulty, qs.LanguageID, qs.Status)
		if v.Timer != nil {
			r.printLine("time left %s, violations %d/%d", v.Timer.FormattedTime, v.Violations, v.ViolationLimit)
		}
		if p.Description != "" {
			r.printLine("\n%s\n", p.Description)
		}
		r.printLine("sample input:\n%s", p.SampleTestCase.InputData)
		r.printLine("expected output:\n%s", p.SampleTestCase.ExpectedOutput)
		if qs.Code != "" {
			r.printLine("your code:\n%s", qs.Code)
		}
		if v.LastResult != nil {
			r.renderResult(v.LastResult)
		}
	}
}

func (r *REPL) list(v model.SessionView) {
	for i, p := range v.Assessment.Problems {
		marker := " "
		if i == v.CurrentQuestion {
			marker = ">"
		}
		r.printLine("%s %2d. %-30s %-6s %s", marker, i+1, p.Name, p.Difficulty, v.Questions[i].Status)
	}
}

func (r *REPL) renderResult(res *model.ActionResult) {
	if res.Error != "" {
		r.printLine("%s failed: %s", res.Action, res.Error)
		return
	}
	switch {
	case res.Run != nil:
		r.printLine("status: %s", res.Run.Status)
		if res.Run.Stdout != "" {
			r.printLine("stdout:\n%s", res.Run.Stdout)
		}
		if res.Run.Stderr != "" {
			r.printLine("stderr:\n%s", res.Run.Stderr)
		}
		if res.Run.CompileOutput != "" {
			r.printLine("compile output:\n%s", res.Run.CompileOutput)
		}
	case res.Submission != nil:
		s := res.Submission
		r.printLine("%s: %d/%d test cases passed", s.OverallStatus, s.PassedTestCases, s.TotalTestCases)
	}
}

func (r *REPL) printHelp() {
	r.printLine(`commands:
  view                 show the current screen
  list                 list problems and their status
  select N             open problem N
  skip                 go to the next problem
  languages            list judge languages
  lang ID              set the language of the current problem
  load FILE            replace the code with the contents of FILE
  code                 type code, end with a single "."
  run                  run the sample test
  submit               submit for scoring
  timer                show the remaining time
  start NAME EMAIL     begin the assessment
  reset                reset a completed assessment
  exit                 leave`)
}

func (r *REPL) printLine(format string, args ...interface{}) {
	r.write(format+"\n", args...)
}

func (r *REPL) write(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.out, format, args...)
	_ = r.out.Flush()
}
