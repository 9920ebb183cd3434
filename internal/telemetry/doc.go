// Package telemetry reads resource state and floorplans from a Domoticz
// compatible home automation server over its JSON API.
//
// Every call is a GET on {base}/json.htm with the query selecting the view:
//
//	type=devices&rid=ID                        one device, Status and Name
//	type=plans&order=name&used=true            locations (floorplans)
//	type=command&param=getplandevices&idx=LOC  devices placed in a location
//
// A device whose Status is "On" is Active, "Off" is Inactive, and anything
// else is Unknown.
package telemetry
