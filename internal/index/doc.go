// Package index applies queue mutations to the search index.
//
// Writer is the boundary the queue drain talks to. PebbleWriter is a local
// document index: each indexed record is stored as a JSON document under
// "doc/<entity>/<id>", rebuilt from the record store at write time.
package index
