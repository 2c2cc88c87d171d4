//go:build !dlib

package embedding

import "errors"

// DlibCompiled reports whether the dlib backend is part of this build.
const DlibCompiled = false

// NewDlibModel is unavailable in builds without the dlib tag.
func NewDlibModel(string) (Model, error) {
	return nil, errors.New("dlib backend not compiled in; rebuild with -tags dlib")
}
