// Package config loads and validates the froyo.yaml project file.
//
// A project names its functions, static site, optional builtin fragments,
// policy paths and the environments it deploys to:
//
//	name: shop
//	region: eu-west-1
//	bucket: shop-artifacts
//	functions:
//	  - name: get-users
//	    source: src/users.ts
//	    methods: [GET]
//	site:
//	  dir: dist
//	  rules:
//	    - pattern: "*.html"
//	      cache_control: no-cache
//	environments:
//	  dev: {}
//	  production:
//	    parameters:
//	      DomainName: shop.example.com
//
// Validation uses go-playground/validator struct tags. Relative paths resolve
// against the directory holding the project file.
package config
