// Package test holds small reflect-based assertion helpers used throughout
// this repo's _test.go files in place of a third-party assertion library.
package test

import (
	"path/filepath"
	"reflect"
	"runtime"
	"testing"
)

func Equal(t testing.TB, exp, act interface{}) {
	t.Helper()
	if reflect.DeepEqual(exp, act) {
		return
	}
	_, file, line, _ := runtime.Caller(1)
	t.Fatalf("\033[31m%s:%d:\n\n\texp: %#v\n\n\tgot: %#v\033[39m\n\n",
		filepath.Base(file), line, exp, act)
}

func NotEqual(t testing.TB, exp, act interface{}) {
	t.Helper()
	if !reflect.DeepEqual(exp, act) {
		return
	}
	_, file, line, _ := runtime.Caller(1)
	t.Fatalf("\033[31m%s:%d:\n\n\texp NOT: %#v\n\n\tgot: %#v\033[39m\n\n",
		filepath.Base(file), line, exp, act)
}

func Nil(t testing.TB, object interface{}) {
	t.Helper()
	if isNil(object) {
		return
	}
	_, file, line, _ := runtime.Caller(1)
	t.Fatalf("\033[31m%s:%d:\n\n\texp: nil\n\n\tgot: %#v\033[39m\n\n",
		filepath.Base(file), line, object)
}

func NotNil(t testing.TB, object interface{}) {
	t.Helper()
	if !isNil(object) {
		return
	}
	_, file, line, _ := runtime.Caller(1)
	t.Fatalf("\033[31m%s:%d:\n\n\texp: not nil\n\n\tgot: nil\033[39m\n\n",
		filepath.Base(file), line)
}

func isNil(object interface{}) bool {
	if object == nil {
		return true
	}
	value := reflect.ValueOf(object)
	switch value.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return value.IsNil()
	}
	return false
}
