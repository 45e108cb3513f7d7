package regex

import "regexp"

var (
	// Target triples: arch-vendor-os with an optional env/abi component.
	TargetTriple = regexp.MustCompile(`^[a-z0-9_.]+-[a-z0-9_]+-[a-z0-9_]+(-[a-z0-9_]+)?$`)

	// GitHub "owner/name" repository slug
	Repository = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

	// `rustc --version` output, e.g. "rustc 1.80.0 (051478957 2024-07-21)"
	RustcVersion = regexp.MustCompile(`^rustc\s+(\d+\.\d+\.\d+(?:-[0-9A-Za-z.]+)?)`)
)
