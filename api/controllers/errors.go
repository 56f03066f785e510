package controllers

import pkgerrors "github.com/angelmondragon/fieldsync/pkg/errors"

var (
	errUnauthenticated = pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	errNoSnapshot      = pkgerrors.New(pkgerrors.CodeNotFound, "no cached snapshot for this day")
	errNoVisitStatus   = pkgerrors.New(pkgerrors.CodeNotFound, "no visit status for this retailer")
)

// asDependency keeps coded errors and wraps anything else as a dependency failure.
func asDependency(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}
