package server

import (
	"fmt"
	"reflect"

	"envelope-rpc/outcome"
)

// methodType describes one exported method callable over RPC.
// ReplyType is nil for void methods of the form (args *A) error.
type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

type service struct {
	name     string
	rcvr     reflect.Value
	typ      reflect.Type
	method   map[string]*methodType
	failures outcome.FailureSet // Errors answered with a RequestError envelope
}

// newService creates a service and scans its callable methods. An empty name means the
// receiver's type name.
func newService(name string, rcvr any, failures outcome.FailureSet) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		name = typ.Elem().Name()
	}
	srv := &service{
		name:     name,
		rcvr:     reflect.ValueOf(rcvr),
		typ:      typ,
		method:   make(map[string]*methodType),
		failures: failures,
	}
	srv.registerMethods()
	if len(srv.method) == 0 {
		return nil, fmt.Errorf("rpc: type %s has no exported methods of suitable type", name)
	}
	return srv, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// registerMethods keeps the exported methods shaped like
//
//	func (rcvr *T) Method(args *A, reply *R) error
//	func (rcvr *T) Method(args *A) error
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}

		switch {
		case mt.NumIn() == 3 && mt.In(1).Kind() == reflect.Ptr && mt.In(2).Kind() == reflect.Ptr:
			s.method[method.Name] = &methodType{
				method:    method,
				ArgType:   mt.In(1).Elem(),
				ReplyType: mt.In(2).Elem(),
			}
		case mt.NumIn() == 2 && mt.In(1).Kind() == reflect.Ptr:
			s.method[method.Name] = &methodType{
				method:  method,
				ArgType: mt.In(1).Elem(),
			}
		}
	}
}

// call invokes the method and returns the reply value, nil for void methods.
func (s *service) call(mType *methodType, argv reflect.Value) (any, error) {
	in := []reflect.Value{s.rcvr, argv}
	var replyv reflect.Value
	if mType.ReplyType != nil {
		replyv = reflect.New(mType.ReplyType)
		in = append(in, replyv)
	}

	results := mType.method.Func.Call(in)
	if err, _ := results[0].Interface().(error); err != nil {
		return nil, err
	}
	if mType.ReplyType == nil {
		return nil, nil
	}
	return replyv.Elem().Interface(), nil
}
