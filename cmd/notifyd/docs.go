package main

// General API documentation for swaggo. Run `swag init -g cmd/notifyd/docs.go -o cmd/notifyd/docs` to generate docs.
//
// @title           notifyd API
// @version         1.0
// @description     Management API for the notification bus: process lifecycle, resource model and notification streams.
//
// @license.name   MIT
// @license.url    https://opensource.org/licenses/MIT
//
// @BasePath  /
//
// @schemes http
