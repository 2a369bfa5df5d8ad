package vfs

import "path"

// FileKind classifies a file by what the build pipeline does with it.
// It is a pure function of the path and is decided once at write time.
type FileKind int

const (
	// KindComponent is a component script with JSX syntax (.jsx, .tsx).
	KindComponent FileKind = iota
	// KindScript is a plain script module (.js, .ts).
	KindScript
	// KindStyle is a style sheet (.css).
	KindStyle
	// KindAsset is a non-executable data file (.json, .txt, .svg, anything else).
	KindAsset
)

func (k FileKind) String() string {
	switch k {
	case KindComponent:
		return "component"
	case KindScript:
		return "script"
	case KindStyle:
		return "style"
	default:
		return "asset"
	}
}

// Executable reports whether files of this kind enter the module graph as
// compiled modules.
func (k FileKind) Executable() bool {
	return k == KindComponent || k == KindScript
}

// KindOf derives the kind of a file from its path extension.
func KindOf(p string) FileKind {
	switch path.Ext(p) {
	case ".jsx", ".tsx":
		return KindComponent
	case ".js", ".ts", ".mjs":
		return KindScript
	case ".css":
		return KindStyle
	default:
		return KindAsset
	}
}
