package history

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/descriptorpb"
)

const (
	serviceName = "transactions.TransactionsService"
	storeMethod = "/" + serviceName + "/StoreTransaction"
)

// Field numbers of CreateTransactionDto
const (
	fieldUser                    = 1
	fieldOriginTokenAddress      = 2
	fieldDestinationTokenAddress = 3
	fieldAmount                  = 4
	fieldOriginChainID           = 5
	fieldDestinationChainID      = 6
)

var (
	requestDescriptor  protoreflect.MessageDescriptor
	responseDescriptor protoreflect.MessageDescriptor
)

func init() {
	fd, err := protodesc.NewFile(transactionsFile(), nil)
	if err != nil {
		panic("history: invalid transactions descriptor: " + err.Error())
	}
	requestDescriptor = fd.Messages().ByName("CreateTransactionDto")
	responseDescriptor = fd.Messages().ByName("EmptyResponseDto")
}

func stringField(name string, number int32) *descriptorpb.FieldDescriptorProto {
	return field(name, number, descriptorpb.FieldDescriptorProto_TYPE_STRING)
}

func field(name string, number int32, typ descriptorpb.FieldDescriptorProto_Type) *descriptorpb.FieldDescriptorProto {
	return &descriptorpb.FieldDescriptorProto{
		Name:     proto.String(name),
		JsonName: proto.String(name),
		Number:   proto.Int32(number),
		Label:    descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
		Type:     typ.Enum(),
	}
}

// transactionsFile mirrors transactions.proto of the history service
func transactionsFile() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("transactions.proto"),
		Package: proto.String("transactions"),
		Syntax:  proto.String("proto3"),
		MessageType: []*descriptorpb.DescriptorProto{
			{
				Name: proto.String("CreateTransactionDto"),
				Field: []*descriptorpb.FieldDescriptorProto{
					stringField("user", fieldUser),
					stringField("originTokenAddress", fieldOriginTokenAddress),
					stringField("destinationTokenAddress", fieldDestinationTokenAddress),
					stringField("amount", fieldAmount),
					field("originChainId", fieldOriginChainID, descriptorpb.FieldDescriptorProto_TYPE_INT32),
					field("destinationChainId", fieldDestinationChainID, descriptorpb.FieldDescriptorProto_TYPE_INT32),
				},
			},
			{Name: proto.String("EmptyResponseDto")},
		},
		Service: []*descriptorpb.ServiceDescriptorProto{
			{
				Name: proto.String("TransactionsService"),
				Method: []*descriptorpb.MethodDescriptorProto{
					{
						Name:       proto.String("StoreTransaction"),
						InputType:  proto.String(".transactions.CreateTransactionDto"),
						OutputType: proto.String(".transactions.EmptyResponseDto"),
					},
				},
			},
		},
	}
}
