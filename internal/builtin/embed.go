// Package builtin bundles the scripts that ship with the binary.
package builtin

import "embed"

// Namespace is the directory of FS holding the bundled scripts.
const Namespace = "scripts"

// Extensions are the document types found under Namespace.
var Extensions = []string{".yaml", ".lua"}

//go:embed scripts
var FS embed.FS
