package controllers

import "errors"

var (
	ErrNoPermission   = errors.New("you do not have permission for this action")
	ErrSessionExpired = errors.New("this table session has ended, please scan again")
	ErrCategoryInUse  = errors.New("category still has menu items")
)
