package proctable

import (
	"bufio"
	"os"
	"strings"
)

// defaultMaxArgvBytes bounds the resolved parameter buffer, mirroring the
// original's fixed PARAM_MAX stack buffer (spec §4.3).
const defaultMaxArgvBytes = 1024

// buildArgv assembles a child's argv from spec.Command and params, resolving
// $VAR and ${VAR} references and splitting on whitespace (spec §4.3):
//
//   - a bare token starting with '$' is looked up first as a file under
//     spec.TempDir named after the variable, whose first line supplies the
//     substituted text; if no such file exists, the process environment is
//     consulted instead;
//   - an unresolvable reference is dropped silently, along with its token;
//   - a token of '>' begins a stdout redirection target, consuming the next
//     token as the path and terminating argument scanning;
//   - argv[0] and argv[1] are both set to the resolved command path, matching
//     the original convention of argv[0] carrying the full path rather than
//     a program basename.
func buildArgv(spec SpawnSpec) (argv []string, stdoutPath string, err error) {
	maxBytes := spec.MaxArgv
	if maxBytes <= 0 {
		maxBytes = defaultMaxArgvBytes
	}

	argv = []string{spec.Command, spec.Command}
	total := 0

	fields := strings.Fields(spec.Params)
	for i := 0; i < len(fields); i++ {
		tok := fields[i]

		if tok == ">" {
			if i+1 < len(fields) {
				stdoutPath = fields[i+1]
			}
			break
		}

		if strings.HasPrefix(tok, "$") {
			resolved, ok := resolveVar(spec.TempDir, tok)
			if !ok {
				continue
			}
			tok = resolved
		}

		total += len(tok) + 1
		if total > maxBytes {
			break
		}
		argv = append(argv, tok)
	}
	return argv, stdoutPath, nil
}

// resolveVar resolves a single $NAME or ${NAME} token. It tries a
// tempDir/NAME file's first line before falling back to the environment
// variable of the same name.
func resolveVar(tempDir, tok string) (string, bool) {
	name := strings.TrimPrefix(tok, "$")
	name = strings.TrimPrefix(name, "{")
	name = strings.TrimSuffix(name, "}")
	if name == "" {
		return "", false
	}

	if tempDir != "" {
		if f, err := os.Open(tempDir + "/" + name); err == nil {
			defer f.Close()
			scanner := bufio.NewScanner(f)
			if scanner.Scan() {
				return scanner.Text(), true
			}
		}
	}

	if v, ok := os.LookupEnv(name); ok {
		return v, true
	}
	return "", false
}
