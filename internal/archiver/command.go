package archiver

import (
	"strings"
)

const (
	cmdAdd     = "a"
	cmdExtract = "x"

	flagAssumeYes      = "-y"
	flagOutputDir      = "-o"
	flagStreamProgress = "-bsp1"
	flagExcludeRecurse = "-xr!"

	// Appending this to a directory makes 7-Zip add the directory's
	// contents rather than the directory itself as a top-level entry.
	allEntriesWildcard = "*"
)

// BuildCommand produces the argument list for task. Gated flags are only
// emitted when caps allows them.
func BuildCommand(task Task, caps Capabilities) (CommandLine, error) {
	if err := task.Validate(); err != nil {
		return nil, err
	}

	var args CommandLine
	switch task.Operation {
	case OperationCompress:
		args = CommandLine{cmdAdd, task.Destination, compressSource(task)}
		args = append(args, gatedFlags(caps)...)
		if task.Filter != "" {
			args = append(args, flagExcludeRecurse+task.Filter)
		}
	case OperationExtract:
		// -o takes its value without a separating space on every platform.
		args = CommandLine{cmdExtract, flagAssumeYes, task.Source, flagOutputDir + task.Destination}
		args = append(args, gatedFlags(caps)...)
		if task.Filter != "" {
			args = append(args, task.Filter)
		}
	}
	return args, nil
}

func compressSource(task Task) string {
	if task.SourceKind == SourceFile {
		// A file/* pattern matches nothing, so single files go in as-is.
		return task.Source
	}
	return strings.TrimRight(task.Source, `/\`) + "/" + allEntriesWildcard
}

func gatedFlags(caps Capabilities) []string {
	var flags []string
	if caps.Has(CapStreamProgress) {
		flags = append(flags, flagStreamProgress)
	}
	return flags
}

// ShellString renders binary and args as one command string for the
// platform shell. Arguments containing spaces or shell metacharacters are
// quoted individually; everything else is left untouched.
func ShellString(goos, binary string, args CommandLine) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, shellQuote(goos, binary))
	for _, arg := range args {
		parts = append(parts, shellQuote(goos, arg))
	}
	return strings.Join(parts, " ")
}

func shellQuote(goos, arg string) string {
	if goos == "windows" {
		if arg == "" || strings.ContainsAny(arg, " \t&|<>^\"") {
			return `"` + strings.ReplaceAll(arg, `"`, `\"`) + `"`
		}
		return arg
	}
	if arg == "" || strings.ContainsAny(arg, " \t\n*?[]!$`\"'\\;&|<>(){}~#") {
		return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
	}
	return arg
}
