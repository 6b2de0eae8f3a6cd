package services

import "errors"

var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrStorage    = errors.New("storage failure")
)

// Error 带可展示信息的业务错误，Kind 为上面的哨兵错误之一
type Error struct {
	Kind error
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Kind }

func validationError(msg string) error { return &Error{Kind: ErrValidation, Msg: msg} }

func notFoundError(msg string) error { return &Error{Kind: ErrNotFound, Msg: msg} }

func forbiddenError(msg string) error { return &Error{Kind: ErrForbidden, Msg: msg} }

// storageError 对外只暴露通用信息，原始错误由调用方记录日志
func storageError(msg string) error { return &Error{Kind: ErrStorage, Msg: msg} }
