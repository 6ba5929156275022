// Package sysmgmt is a small user and role management backend built on the
// crudkit packages: REST resources for users, roles, modules and action
// logs, a login API issuing bearer tokens and sessions, role based
// permission checks and an operation log written through the task queue.
package sysmgmt
