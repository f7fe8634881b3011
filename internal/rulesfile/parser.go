// Package rulesfile parses the declarative rules file into a populated
// ruleset.Store (spec §6.1). The grammar is a flat sequence of directives,
// one RULE block per rule, evaluated top to bottom with recursive INCLUDE
// support.
package rulesfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/steveyegge/pcd/internal/ruleset"
)

// SupportedVersion is the highest VERSION directive this parser accepts.
const SupportedVersion = 1

// maxIncludeDepth guards against a cyclic INCLUDE chain.
const maxIncludeDepth = 8

// ParseError reports a rules-file syntax problem with its source location.
type ParseError struct {
	File string
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Msg)
}

// pendingRule accumulates directives for one RULE block until the next
// RULE directive or end of input flushes it into the store.
type pendingRule struct {
	id      ruleset.RuleId
	indexed bool
	rule    ruleset.Rule
	set     bool
}

// Parse reads a rules file from path into store, following INCLUDE
// directives relative to each file's own directory.
func Parse(path string, store *ruleset.Store) error {
	return parseFile(path, store, 0)
}

func parseFile(path string, store *ruleset.Store, depth int) error {
	if depth > maxIncludeDepth {
		return fmt.Errorf("rulesfile: INCLUDE nesting exceeds %d at %s", maxIncludeDepth, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("rulesfile: open %s: %w", path, err)
	}
	defer f.Close()

	return parseReader(f, path, store, depth)
}

func parseReader(r io.Reader, file string, store *ruleset.Store, depth int) error {
	scanner := bufio.NewScanner(r)
	var pending *pendingRule
	lineNo := 0

	flush := func() error {
		if pending == nil {
			return nil
		}
		pending.rule.ID = pending.id
		pending.rule.Indexed = pending.indexed
		if err := store.Insert(&pending.rule); err != nil {
			return &ParseError{File: file, Line: lineNo, Msg: err.Error()}
		}
		pending = nil
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		directive, rest := splitDirective(line)
		switch directive {
		case "VERSION":
			v, err := strconv.Atoi(strings.TrimSpace(rest))
			if err != nil {
				return &ParseError{File: file, Line: lineNo, Msg: "VERSION requires an integer"}
			}
			if v > SupportedVersion {
				return &ParseError{File: file, Line: lineNo, Msg: fmt.Sprintf("unsupported rules file version %d", v)}
			}

		case "INCLUDE":
			incPath := strings.TrimSpace(rest)
			if !filepath.IsAbs(incPath) {
				incPath = filepath.Join(filepath.Dir(file), incPath)
			}
			if err := parseFile(incPath, store, depth+1); err != nil {
				return err
			}

		case "RULE":
			if err := flush(); err != nil {
				return err
			}
			group, name, err := splitPair(rest)
			if err != nil {
				return &ParseError{File: file, Line: lineNo, Msg: "RULE requires group and name"}
			}
			indexed := strings.HasSuffix(name, "$")
			name = strings.TrimSuffix(name, "$")
			pending = &pendingRule{id: ruleset.RuleId{Group: group, Rule: name}, indexed: indexed}
			pending.rule.State = ruleset.Idle

		default:
			if pending == nil {
				return &ParseError{File: file, Line: lineNo, Msg: fmt.Sprintf("directive %q outside a RULE block", directive)}
			}
			if err := applyDirective(pending, directive, rest, file, lineNo); err != nil {
				return err
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("rulesfile: read %s: %w", file, err)
	}
	return flush()
}

func splitDirective(line string) (directive, rest string) {
	i := strings.IndexAny(line, " \t")
	if i < 0 {
		return line, ""
	}
	return line[:i], strings.TrimSpace(line[i+1:])
}

func splitPair(s string) (a, b string, err error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return "", "", fmt.Errorf("expected two fields, got %q", s)
	}
	return fields[0], fields[1], nil
}

func applyDirective(p *pendingRule, directive, rest, file string, line int) error {
	switch directive {
	case "COMMAND":
		p.rule.Command, p.rule.Params = splitCommand(rest)
	case "ACTIVE":
		p.rule.State = ruleset.Active
	case "DAEMON":
		p.rule.Daemon = true
	case "USER":
		uid, err := resolveUser(rest)
		if err != nil {
			return &ParseError{File: file, Line: line, Msg: err.Error()}
		}
		p.rule.UID = uid
	case "SCHED":
		sp, err := parseSched(rest)
		if err != nil {
			return &ParseError{File: file, Line: line, Msg: err.Error()}
		}
		p.rule.Sched = sp
	case "START_COND":
		sc, err := parseStartCond(rest)
		if err != nil {
			return &ParseError{File: file, Line: line, Msg: err.Error()}
		}
		p.rule.Start = sc
	case "END_COND":
		ec, err := parseEndCond(rest)
		if err != nil {
			return &ParseError{File: file, Line: line, Msg: err.Error()}
		}
		p.rule.End = ec
	case "END_COND_TIMEOUT":
		if strings.EqualFold(rest, "FOREVER") {
			p.rule.TimeoutIsSet = false
			return nil
		}
		ms, err := strconv.Atoi(rest)
		if err != nil {
			return &ParseError{File: file, Line: line, Msg: "END_COND_TIMEOUT requires milliseconds or FOREVER"}
		}
		p.rule.Timeout = time.Duration(ms) * time.Millisecond
		p.rule.TimeoutIsSet = true
	case "FAILURE_ACTION":
		fa, err := parseFailureAction(rest)
		if err != nil {
			return &ParseError{File: file, Line: line, Msg: err.Error()}
		}
		p.rule.FailureAction = fa
	default:
		return &ParseError{File: file, Line: line, Msg: fmt.Sprintf("unknown directive %q", directive)}
	}
	return nil
}

func splitCommand(s string) (command, params string) {
	fields := strings.SplitN(s, " ", 2)
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], fields[1]
}

// resolveUser resolves a USER directive's argument as a decimal uid or a
// login name, looked up via the system user database (original_source's
// misc.c resolves USER the same way: numeric first, then getpwnam).
func resolveUser(s string) (int, error) {
	if uid, err := strconv.Atoi(s); err == nil {
		return uid, nil
	}
	u, err := user.Lookup(s)
	if err != nil {
		return 0, fmt.Errorf("USER %q: %w", s, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, fmt.Errorf("USER %q: unparseable uid %q", s, u.Uid)
	}
	return uid, nil
}

func parseSched(s string) (ruleset.SchedPolicy, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return ruleset.SchedPolicy{}, fmt.Errorf("SCHED requires kind and value, got %q", s)
	}
	v, err := strconv.Atoi(fields[1])
	if err != nil {
		return ruleset.SchedPolicy{}, fmt.Errorf("SCHED value must be an integer: %q", fields[1])
	}
	switch strings.ToUpper(fields[0]) {
	case "NICE":
		return ruleset.SchedPolicy{Kind: ruleset.SchedNice, Value: v}, nil
	case "FIFO":
		return ruleset.SchedPolicy{Kind: ruleset.SchedFifo, Value: v}, nil
	default:
		return ruleset.SchedPolicy{}, fmt.Errorf("unknown SCHED kind %q", fields[0])
	}
}

func parseStartCond(s string) (ruleset.StartCondition, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ruleset.StartCondition{}, fmt.Errorf("START_COND requires a kind")
	}
	switch strings.ToUpper(fields[0]) {
	case "NONE":
		return ruleset.StartCondition{Kind: ruleset.StartNone}, nil
	case "FILE_EXISTS":
		return requireOneArg(fields, func(a string) ruleset.StartCondition {
			return ruleset.StartCondition{Kind: ruleset.StartFileExists, Path: a}
		})
	case "NET_DEVICE_EXISTS":
		return requireOneArg(fields, func(a string) ruleset.StartCondition {
			return ruleset.StartCondition{Kind: ruleset.StartNetDeviceExists, Ifname: a}
		})
	case "IPC_OWNER_PRESENT":
		return requireIntArg(fields, func(v int) ruleset.StartCondition {
			return ruleset.StartCondition{Kind: ruleset.StartIpcOwnerPresent, Owner: v}
		})
	case "ENV_VAR_EQUALS":
		if len(fields) != 3 {
			return ruleset.StartCondition{}, fmt.Errorf("ENV_VAR_EQUALS requires name and value")
		}
		return ruleset.StartCondition{Kind: ruleset.StartEnvVarEquals, EnvName: fields[1], EnvValue: fields[2]}, nil
	case "RULES_COMPLETED":
		ids := make([]ruleset.RuleId, 0, len(fields)-1)
		for _, tok := range fields[1:] {
			group, rule, ok := strings.Cut(tok, "_")
			if !ok {
				return ruleset.StartCondition{}, fmt.Errorf("RULES_COMPLETED entry %q must be group_rule", tok)
			}
			ids = append(ids, ruleset.RuleId{Group: group, Rule: rule})
		}
		return ruleset.NewRulesCompleted(ids), nil
	default:
		return ruleset.StartCondition{}, fmt.Errorf("unknown START_COND kind %q", fields[0])
	}
}

func requireOneArg(fields []string, build func(string) ruleset.StartCondition) (ruleset.StartCondition, error) {
	if len(fields) != 2 {
		return ruleset.StartCondition{}, fmt.Errorf("%s requires one argument", fields[0])
	}
	return build(fields[1]), nil
}

func requireIntArg(fields []string, build func(int) ruleset.StartCondition) (ruleset.StartCondition, error) {
	if len(fields) != 2 {
		return ruleset.StartCondition{}, fmt.Errorf("%s requires one integer argument", fields[0])
	}
	v, err := strconv.Atoi(fields[1])
	if err != nil {
		return ruleset.StartCondition{}, fmt.Errorf("%s requires an integer argument, got %q", fields[0], fields[1])
	}
	return build(v), nil
}

func parseEndCond(s string) (ruleset.EndCondition, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ruleset.EndCondition{}, fmt.Errorf("END_COND requires a kind")
	}
	switch strings.ToUpper(fields[0]) {
	case "NONE":
		return ruleset.EndCondition{Kind: ruleset.EndNone}, nil
	case "FILE_EXISTS":
		if len(fields) != 2 {
			return ruleset.EndCondition{}, fmt.Errorf("FILE_EXISTS requires a path")
		}
		return ruleset.EndCondition{Kind: ruleset.EndFileExists, Path: fields[1]}, nil
	case "NET_DEVICE_EXISTS":
		if len(fields) != 2 {
			return ruleset.EndCondition{}, fmt.Errorf("NET_DEVICE_EXISTS requires an interface name")
		}
		return ruleset.EndCondition{Kind: ruleset.EndNetDeviceExists, Ifname: fields[1]}, nil
	case "IPC_OWNER_PRESENT":
		if len(fields) != 2 {
			return ruleset.EndCondition{}, fmt.Errorf("IPC_OWNER_PRESENT requires an owner id")
		}
		v, err := strconv.Atoi(fields[1])
		if err != nil {
			return ruleset.EndCondition{}, fmt.Errorf("IPC_OWNER_PRESENT requires an integer: %q", fields[1])
		}
		return ruleset.EndCondition{Kind: ruleset.EndIpcOwnerPresent, Owner: v}, nil
	case "EXIT_STATUS":
		if len(fields) != 2 {
			return ruleset.EndCondition{}, fmt.Errorf("EXIT_STATUS requires a code")
		}
		v, err := strconv.Atoi(fields[1])
		if err != nil {
			return ruleset.EndCondition{}, fmt.Errorf("EXIT_STATUS requires an integer: %q", fields[1])
		}
		return ruleset.EndCondition{Kind: ruleset.EndExitStatus, ExitCode: v}, nil
	case "PROCESS_READY":
		return ruleset.EndCondition{Kind: ruleset.EndProcessReady}, nil
	case "WAIT":
		if len(fields) != 2 {
			return ruleset.EndCondition{}, fmt.Errorf("WAIT requires a reload interval in milliseconds")
		}
		v, err := strconv.Atoi(fields[1])
		if err != nil {
			return ruleset.EndCondition{}, fmt.Errorf("WAIT requires an integer: %q", fields[1])
		}
		return ruleset.EndCondition{Kind: ruleset.EndWait, ReloadMs: v}, nil
	default:
		return ruleset.EndCondition{}, fmt.Errorf("unknown END_COND kind %q", fields[0])
	}
}

func parseFailureAction(s string) (ruleset.FailureAction, error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ruleset.FailureAction{}, fmt.Errorf("FAILURE_ACTION requires a kind")
	}
	switch strings.ToUpper(fields[0]) {
	case "NONE":
		return ruleset.FailureAction{Kind: ruleset.FailureNone}, nil
	case "REBOOT":
		return ruleset.FailureAction{Kind: ruleset.FailureReboot}, nil
	case "RESTART":
		return ruleset.FailureAction{Kind: ruleset.FailureRestart}, nil
	case "EXEC_RULE":
		if len(fields) != 2 {
			return ruleset.FailureAction{}, fmt.Errorf("EXEC_RULE requires a target group_rule")
		}
		group, rule, ok := strings.Cut(fields[1], "_")
		if !ok {
			return ruleset.FailureAction{}, fmt.Errorf("EXEC_RULE target %q must be group_rule", fields[1])
		}
		return ruleset.FailureAction{Kind: ruleset.FailureExecRule, Target: ruleset.RuleId{Group: group, Rule: rule}}, nil
	default:
		return ruleset.FailureAction{}, fmt.Errorf("unknown FAILURE_ACTION kind %q", fields[0])
	}
}
