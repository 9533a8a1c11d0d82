package demo

import (
	"dispatch-rpc/server"
	"dispatch-rpc/value"
	"dispatch-rpc/wrapper"
)

// StateFinder is registered through the wrapper, as a bound method and as
// a scanned service.
type StateFinder struct{}

// FindState returns the name of state n, or a complaint when there is none.
func (*StateFinder) FindState(n int64) string { return findState(n) }

// States lists every state name in order.
func (*StateFinder) States() []string { return stateNames[:] }

// registerWrapped registers state lookups built from native functions:
// by reflection, from a manual descriptor, as a bound method and as a
// service scan.
func registerWrapped(svr *server.Server) error {
	if err := svr.RegisterFunc("examples.wrapped.getStateName", findState, wrapper.WithDoc(findStateDoc)); err != nil {
		return err
	}
	desc := wrapper.Descriptor{
		Params: []wrapper.Param{{Name: "stateNo", Kind: value.KindInt}},
		Return: value.KindString,
		Doc:    findStateDoc,
	}
	if err := svr.RegisterFunc("examples.described.getStateName", findState, wrapper.WithDescriptor(desc)); err != nil {
		return err
	}
	if err := svr.RegisterMethod("examples.method.getStateName", &StateFinder{}, "FindState"); err != nil {
		return err
	}
	_, err := svr.RegisterService(&StateFinder{}, "examples.service")
	return err
}
