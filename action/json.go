package action

import jsoniter "github.com/json-iterator/go"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

func marshalAction(a Action) ([]byte, error) {
	return jsonAPI.Marshal(a)
}

func marshalTuplePair(private, public Action) ([]byte, error) {
	return jsonAPI.Marshal([2]Action{private, public})
}
