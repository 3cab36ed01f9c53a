package api

import (
	"fmt"
	"net/http"

	"branchdown/internal/engine"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
)

func badParam(op, name string, err error) error {
	return &engine.Error{Kind: engine.KindInvalidArgument, Op: op, Msg: fmt.Sprintf("invalid %s", name), Err: err}
}

// pathID binds an int64 path parameter in simple style.
func pathID(r *http.Request, op, name string) (int64, error) {
	var id int64
	err := runtime.BindStyledParameterWithLocation("simple", false, name, runtime.ParamLocationPath, chi.URLParam(r, name), &id)
	if err != nil {
		return 0, badParam(op, name, err)
	}
	return id, nil
}

func pathInt(r *http.Request, op, name string) (int, error) {
	var v int
	err := runtime.BindStyledParameterWithLocation("simple", false, name, runtime.ParamLocationPath, chi.URLParam(r, name), &v)
	if err != nil {
		return 0, badParam(op, name, err)
	}
	return v, nil
}

// depthFilter reads the optional depth query parameter. Absent means no
// filtering.
func depthFilter(r *http.Request, op string) (int, error) {
	var depth *int
	if err := runtime.BindQueryParameter("form", true, false, "depth", r.URL.Query(), &depth); err != nil {
		return 0, badParam(op, "depth", err)
	}
	if depth == nil {
		return engine.NoDepthFilter, nil
	}
	return *depth, nil
}
