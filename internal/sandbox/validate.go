// Package sandbox validates and executes user-supplied fitness code.
//
// Validation (this file) is a conservative static screen: it gives fast,
// actionable rejections and closes the easy abuse classes before any
// container is spent. Containment itself is the executor's job.
package sandbox

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kThendral/OptimizeHub-sub000/internal/domain"
)

// allowedImports are the only module roots user code may import. Submodules
// of allowed roots (numpy.linalg etc.) are allowed.
var allowedImports = map[string]bool{
	"math":  true,
	"numpy": true,
}

// deniedIdentifiers are builtins and module names whose mere mention rejects
// the source: dynamic execution, IO, introspection, OS bridges and
// deserialization.
var deniedIdentifiers = []string{
	"exec", "eval", "compile", "__import__", "breakpoint",
	"open", "input", "memoryview",
	"getattr", "setattr", "delattr", "globals", "locals", "vars", "dir",
	"os", "sys", "subprocess", "socket", "shutil", "pathlib", "ctypes",
	"importlib", "multiprocessing", "threading", "signal", "builtins",
	"pickle", "marshal", "shelve",
}

var (
	fromRe       = regexp.MustCompile(`^from\s+([A-Za-z_][\w.]*)`)
	importRe     = regexp.MustCompile(`^import\s+(.+)$`)
	dunderAttrRe = regexp.MustCompile(`__[A-Za-z0-9_]+__`)
	withRe       = regexp.MustCompile(`^\s*(?:async\s+)?with\b`)
	fitnessDefRe = regexp.MustCompile(`^def\s+fitness\s*\(\s*([A-Za-z_]\w*)\s*\)\s*:`)
	anyDefRe     = regexp.MustCompile(`^def\s+fitness\s*\(`)
	identRe      = regexp.MustCompile(`[A-Za-z_]\w*`)
)

// Validate decides whether source is safe to hand to the executor. It is a
// pure function: nil means accepted, otherwise a validation-kind error with
// a short, actionable reason. It never panics on arbitrary input.
func Validate(source string) error {
	if strings.TrimSpace(source) == "" {
		return domain.NewJobError(domain.KindValidation, "empty fitness source")
	}
	denied := make(map[string]bool, len(deniedIdentifiers))
	for _, d := range deniedIdentifiers {
		denied[d] = true
	}

	fitnessFound := false
	for i, raw := range strings.Split(source, "\n") {
		lineNo := i + 1
		line := stripComment(raw)
		if strings.TrimSpace(line) == "" {
			continue
		}

		// Imports are checked per statement: Python allows several modules
		// per import and several statements per line behind semicolons.
		importsOnly := true
		for _, stmt := range strings.Split(line, ";") {
			stmt = strings.TrimSpace(stmt)
			switch {
			case stmt == "":
			case fromRe.MatchString(stmt):
				root := strings.SplitN(fromRe.FindStringSubmatch(stmt)[1], ".", 2)[0]
				if !allowedImports[root] {
					return importRejected(lineNo, root)
				}
			case importRe.MatchString(stmt):
				for _, mod := range strings.Split(importRe.FindStringSubmatch(stmt)[1], ",") {
					fields := strings.Fields(strings.TrimSpace(mod))
					if len(fields) == 0 {
						return domain.NewJobError(domain.KindValidation,
							fmt.Sprintf("line %d: malformed import", lineNo))
					}
					root := strings.SplitN(fields[0], ".", 2)[0]
					if !allowedImports[root] {
						return importRejected(lineNo, root)
					}
				}
			default:
				importsOnly = false
			}
		}
		if importsOnly {
			continue
		}
		if withRe.MatchString(line) {
			return domain.NewJobError(domain.KindValidation,
				fmt.Sprintf("line %d: 'with' statements are not allowed", lineNo))
		}
		if loc := dunderAttrRe.FindString(line); loc != "" {
			return domain.NewJobError(domain.KindValidation,
				fmt.Sprintf("line %d: access to %s is not allowed", lineNo, loc))
		}
		for _, ident := range identRe.FindAllString(line, -1) {
			if denied[ident] {
				return domain.NewJobError(domain.KindValidation,
					fmt.Sprintf("line %d: use of %q is not allowed", lineNo, ident))
			}
		}
		if anyDefRe.MatchString(line) {
			if !fitnessDefRe.MatchString(line) {
				return domain.NewJobError(domain.KindValidation,
					fmt.Sprintf("line %d: fitness must take exactly one parameter", lineNo))
			}
			fitnessFound = true
		}
	}
	if !fitnessFound {
		return domain.NewJobError(domain.KindValidation,
			"source must define a top-level 'def fitness(x):' taking one parameter")
	}
	return nil
}

func importRejected(lineNo int, root string) error {
	return domain.NewJobError(domain.KindValidation,
		fmt.Sprintf("line %d: import of %q is not allowed (allowed: math, numpy)", lineNo, root))
}

// stripComment drops a trailing # comment, respecting string literals enough
// for a conservative scan (a # inside quotes is kept).
func stripComment(line string) string {
	inStr := byte(0)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inStr != 0:
			if c == inStr {
				inStr = 0
			}
		case c == '\'' || c == '"':
			inStr = c
		case c == '#':
			return line[:i]
		}
	}
	return line
}
