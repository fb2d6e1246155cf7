// Package httputil provides the response envelope, the error body and the
// request parsing helpers shared by every handler.
//
// Success:
//
//	httputil.WriteCreated(w, "Role created", role)
//
// Errors are returned as values and rendered once:
//
//	if err != nil {
//		httputil.WriteError(w, r, err)
//		return
//	}
//
// *httputil.Error keeps its status and message; validator errors become 422
// validation_error; PostgreSQL unique violations become 409 integrity_error;
// anything else is logged and rendered as a 500.
package httputil
