// Package remote submits ordered batches of path operations to a
// version-control-style store as single atomic commits.
package remote

import (
	"fmt"
	"path"
	"strings"
)

// Kind names an operation the way svnmucc spells it.
type Kind string

const (
	KindMakeDirectory Kind = "mkdir"
	KindPutFile       Kind = "put"
	KindMove          Kind = "mv"
	KindRemove        Kind = "rm"
)

// Operation is one remote action. Which fields are set depends on Kind:
//
//	mkdir Path
//	put   LocalPath -> Path (Digest: sha512 of the local file, optional)
//	mv    From -> Path     (Digest: expected sha512 of the moved file)
//	rm    Path
type Operation struct {
	Kind      Kind
	Path      string
	From      string
	LocalPath string
	Digest    string
}

func MakeDirectory(p string) Operation {
	return Operation{Kind: KindMakeDirectory, Path: Clean(p)}
}

func PutFile(localPath, remotePath string) Operation {
	return Operation{Kind: KindPutFile, LocalPath: localPath, Path: Clean(remotePath)}
}

// PutFileDigest is PutFile with the local content digest already known.
func PutFileDigest(localPath, remotePath, digestHex string) Operation {
	op := PutFile(localPath, remotePath)
	op.Digest = strings.ToLower(digestHex)
	return op
}

// Move relocates from to to. expectDigest is the sha512 the destination
// holds once the move has happened; it lets a re-run recognise a move that
// already completed.
func Move(from, to, expectDigest string) Operation {
	return Operation{Kind: KindMove, From: Clean(from), Path: Clean(to), Digest: strings.ToLower(expectDigest)}
}

func Remove(p string) Operation {
	return Operation{Kind: KindRemove, Path: Clean(p)}
}

func (o Operation) String() string {
	switch o.Kind {
	case KindPutFile:
		return fmt.Sprintf("put %s %s", o.LocalPath, o.Path)
	case KindMove:
		return fmt.Sprintf("mv %s %s", o.From, o.Path)
	default:
		return fmt.Sprintf("%s %s", o.Kind, o.Path)
	}
}

// Args renders the operation as svnmucc action arguments.
func (o Operation) Args() []string {
	switch o.Kind {
	case KindPutFile:
		return []string{"put", o.LocalPath, o.Path}
	case KindMove:
		return []string{"mv", o.From, o.Path}
	default:
		return []string{string(o.Kind), o.Path}
	}
}

// Clean normalises a store-relative path: slash separated, no leading or
// trailing slash. The store root is "".
func Clean(p string) string {
	p = strings.Trim(path.Clean("/"+p), "/")
	return p
}

// Parents returns the ancestors of p, outermost first, excluding the root.
func Parents(p string) []string {
	p = Clean(p)
	var out []string
	for dir := path.Dir(p); dir != "." && dir != "/" && dir != ""; dir = path.Dir(dir) {
		out = append(out, dir)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// under reports whether p is root or a descendant of root.
func under(p, root string) bool {
	return p == root || strings.HasPrefix(p, root+"/")
}
