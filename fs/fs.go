// Package appfs embeds the files shipped with the binaries: SQL migrations and email templates.
package appfs

import "embed"

// email layouts are prefixed with "_", hence the explicit pattern.
//
//go:embed migrations/*.sql assets/*.txt assets/templates/email/*
var FS embed.FS
